package netx

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	guuid "github.com/google/uuid"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/ndt-server/tcpinfox"
	"github.com/m-lab/tcp-info/tcp"
	"github.com/m-lab/uuid"
)

// ErrNoFile is returned by TCPInfo when the connection has no duplicated
// file descriptor to query.
var ErrNoFile = errors.New("connection has no file descriptor")

// ConnInfo provides operations on a net.Conn's underlying file descriptor.
type ConnInfo interface {
	ByteCounters() (uint64, uint64)
	TCPInfo() (*tcp.LinuxTCPInfo, error)
	AcceptTime() time.Time
	UUID() string
}

// ToConnInfo is a helper function to convert a net.Conn into a netx.ConnInfo.
// It panics if netConn does not contain a type supporting ConnInfo.
func ToConnInfo(netConn net.Conn) ConnInfo {
	ci, ok := asConnInfo(netConn)
	if !ok {
		panic(fmt.Sprintf("unsupported connection type: %T", netConn))
	}
	return ci
}

func asConnInfo(netConn net.Conn) (ConnInfo, bool) {
	switch t := netConn.(type) {
	case *Conn:
		return t, true
	case *tls.Conn:
		if c, ok := t.NetConn().(*Conn); ok {
			return c, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// Conn is an extended net.Conn that stores its accept time, a copy of the
// underlying socket's file descriptor, and counters for read/written bytes.
type Conn struct {
	net.Conn

	fp           *os.File
	acceptTime   time.Time
	uuid         string
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// FromTCPConn wraps tcpConn into a Conn, duplicating its file descriptor.
func FromTCPConn(tcpConn *net.TCPConn) (*Conn, error) {
	// File() duplicates the underlying file descriptor. This duplicate must
	// be independently closed.
	fp, err := tcpConn.File()
	if err != nil {
		return nil, err
	}
	c := &Conn{
		Conn:       tcpConn,
		fp:         fp,
		acceptTime: time.Now(),
	}
	c.uuid = makeUUID(fp)
	return c, nil
}

// makeUUID returns an M-Lab UUID. On platforms not supporting SO_COOKIE, it
// returns a google/uuid as a fallback. If the fallback fails, it panics.
func makeUUID(fp *os.File) string {
	id, err := uuid.FromFile(fp)
	if err != nil {
		gid, err := guuid.NewUUID()
		// NOTE: this could only fail when guuid.GetTime() fails.
		rtx.Must(err, "unable to fallback to uuid")
		id = gid.String()
	}
	return id
}

// Read reads from the underlying net.Conn and updates the read bytes counter.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.bytesRead.Add(uint64(n))
	return n, err
}

// Write writes to the underlying net.Conn and updates the written bytes counter.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.bytesWritten.Add(uint64(n))
	return n, err
}

// ByteCounters returns the read and written byte counters, in this order.
func (c *Conn) ByteCounters() (uint64, uint64) {
	return c.bytesRead.Load(), c.bytesWritten.Load()
}

// Close closes the underlying net.Conn and the duplicate file descriptor.
func (c *Conn) Close() error {
	if c.fp != nil {
		c.fp.Close()
	}
	return c.Conn.Close()
}

// TCPInfo returns the TCP_INFO struct for the underlying socket. If TCP_INFO
// isn't available on this platform, this returns tcpinfox.ErrNoSupport.
func (c *Conn) TCPInfo() (*tcp.LinuxTCPInfo, error) {
	if c.fp == nil {
		return nil, ErrNoFile
	}
	return tcpinfox.GetTCPInfo(c.fp)
}

// AcceptTime returns this connection's accept time.
func (c *Conn) AcceptTime() time.Time {
	return c.acceptTime
}

// UUID returns the connection's unique identifier.
func (c *Conn) UUID() string {
	return c.uuid
}
