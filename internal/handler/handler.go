// Package handler implements the HTTP endpoints of the speed-test server.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecatalog/speedtest/internal/metrics"
	"github.com/filecatalog/speedtest/internal/netx"
	"github.com/filecatalog/speedtest/internal/persistence"
	"github.com/filecatalog/speedtest/pkg/speedtest"
	"github.com/filecatalog/speedtest/pkg/speedtest/model"
	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
	"github.com/jellydator/ttlcache/v3"
	"github.com/m-lab/access/controller"
)

// validMID matches measurement IDs that are safe to use in file names.
var validMID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

var (
	errNoMID      = errors.New("no valid token nor mid found in the request")
	errInvalidMID = errors.New("invalid mid")
)

// Handler serves the speed-test endpoints. Requests carrying a measurement
// ID are grouped into sessions that are archived to disk when they expire.
type Handler struct {
	archivalDataDir string
	sessions        *ttlcache.Cache[string, *session]
	sessionsMu      sync.Mutex
}

// New returns a new Handler writing archival data to archivalDataDir.
// Sessions are kept in memory for sessionTTL after creation.
func New(archivalDataDir string, sessionTTL time.Duration) *Handler {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *session](sessionTTL),
		ttlcache.WithDisableTouchOnHit[string, *session](),
	)
	cache.OnEviction(func(ctx context.Context,
		er ttlcache.EvictionReason,
		i *ttlcache.Item[string, *session]) {
		log.Debug("Session expired", "id", i.Value().id, "reason", er)

		// Save data to disk when the session expires.
		archive := i.Value().archive()
		archive.EndTime = time.Now()
		_, err := persistence.WriteDataFile(archivalDataDir, "speedtest", "", archive.ID, archive)
		if err != nil {
			metrics.ArchiveErrors.Inc()
			log.Error("failed to write speedtest result", "mid", archive.ID, "error", err)
		}
	})

	go cache.Start()
	return &Handler{
		archivalDataDir: archivalDataDir,
		sessions:        cache,
	}
}

// Close archives all the sessions still in memory and stops the session
// cache cleanup goroutine.
func (h *Handler) Close() {
	h.sessions.DeleteAll()
	h.sessions.Stop()
}

// Register adds the speed-test endpoints to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+spec.DownloadPath, h.Download)
	mux.HandleFunc("GET "+spec.PingPath, h.Ping)
	mux.HandleFunc("POST "+spec.UploadPath, h.Upload)
	mux.HandleFunc("GET "+spec.IPPath, h.ClientIP)
	mux.HandleFunc("GET "+spec.ResultPath, h.Result)
	mux.HandleFunc("GET "+spec.HealthPath, Health)
}

// Ping answers with the current server time. Clients time the round trip.
func (h *Handler) Ping(rw http.ResponseWriter, req *http.Request) {
	metrics.Pings.Inc()
	if s := h.sessionFor(req); s != nil {
		s.addPing()
	}
	rw.Header().Set("Cache-Control", "no-store")
	writeJSON(rw, http.StatusOK, model.PingResponse{T: time.Now().UnixMilli()})
}

// Download streams sizeMb MiB of zeros to the client. The size is clamped to
// [spec.MinSizeMB, spec.MaxSizeMB].
func (h *Handler) Download(rw http.ResponseWriter, req *http.Request) {
	total := spec.SizeBytes(parseSizeMB(req.URL.Query().Get("sizeMb")))

	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Header().Set("Content-Length", strconv.FormatInt(total, 10))
	rw.Header().Set("Cache-Control", "no-store")
	if req.Method == http.MethodHead {
		return
	}

	start := time.Now()
	gen := speedtest.NewGenerator(total)
	n, err := gen.Stream(req.Context(), rw)
	if err != nil {
		log.Info("download interrupted", "client", req.RemoteAddr,
			"sent", n, "total", total, "error", err)
	}
	h.recordTransfer(req, spec.DirectionDownload, start, n, total, err)
}

// Upload reads and discards the request body, then reports how many bytes
// were received. A body that cannot be read to the end results in a 500.
func (h *Handler) Upload(rw http.ResponseWriter, req *http.Request) {
	start := time.Now()
	sink := speedtest.NewSink()
	n, err := sink.Consume(req.Context(), req.Body)
	h.recordTransfer(req, spec.DirectionUpload, start, n, 0, err)
	if err != nil {
		log.Info("upload interrupted", "client", req.RemoteAddr,
			"received", n, "error", err)
		rw.Header().Set("Connection", "Close")
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Cache-Control", "no-store")
	writeJSON(rw, http.StatusOK, model.UploadResponse{Received: n})
}

// ClientIP reports the client's address as seen by the server.
func (h *Handler) ClientIP(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, http.StatusOK, model.IPResponse{IP: clientIP(req)})
}

// Result returns a result for a given measurement id. Possible status codes
// are:
// - 400 if the request does not contain a valid mid
// - 404 if the mid is not found in the sessions cache
func (h *Handler) Result(rw http.ResponseWriter, req *http.Request) {
	mid, err := GetMIDFromRequest(req)
	if err != nil {
		log.Info("Received request without mid", "source", req.RemoteAddr,
			"error", err)
		rw.Header().Set("Connection", "Close")
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	cached := h.sessions.Get(mid)
	if cached == nil {
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, cached.Value().summarize())
}

// Health reports that the server is up.
func Health(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, http.StatusOK, model.HealthResponse{OK: true})
}

// GetMIDFromRequest extracts the measurement id ("mid") from a given HTTP
// request, if present.
//
// A measurement ID can be specified in two ways: via a "mid" querystring
// parameter (when access tokens are not required) or via the ID field
// in the JWT access token.
func GetMIDFromRequest(req *http.Request) (string, error) {
	var mid string
	// If the request includes a valid JWT token, the claim and the ID are in
	// the request's context already.
	if claims := controller.GetClaim(req.Context()); claims != nil {
		mid = claims.ID
	} else {
		mid = req.URL.Query().Get("mid")
	}
	if mid == "" {
		return "", errNoMID
	}
	if !validMID.MatchString(mid) {
		return "", errInvalidMID
	}
	return mid, nil
}

// sessionFor returns the session for the request's measurement ID, creating
// it if needed. It returns nil for requests without a valid mid.
func (h *Handler) sessionFor(req *http.Request) *session {
	mid, err := GetMIDFromRequest(req)
	if err != nil {
		return nil
	}
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()
	if item := h.sessions.Get(mid); item != nil {
		return item.Value()
	}
	var server string
	if addr, ok := req.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		server = addr.String()
	}
	s := newSession(mid, req.RemoteAddr, server)
	h.sessions.Set(mid, s, ttlcache.DefaultTTL)
	log.Debug("session created", "id", mid)
	return s
}

func (h *Handler) recordTransfer(req *http.Request, dir spec.Direction,
	start time.Time, n, target int64, transferErr error) {
	end := time.Now()
	t := model.Transfer{
		Direction:   string(dir),
		StartTime:   start,
		EndTime:     end,
		Bytes:       n,
		TargetBytes: target,
	}
	if rate, err := speedtest.MbitPerSecond(n, end.Sub(start)); err == nil {
		t.MbitPerSecond = rate
	}

	result := "ok"
	if transferErr != nil {
		result = "error"
		t.Error = transferErr.Error()
	}
	metrics.Transfers.WithLabelValues(string(dir), result).Inc()
	metrics.TransferBytes.WithLabelValues(string(dir)).Add(float64(n))
	if transferErr == nil {
		metrics.TransferRate.WithLabelValues(string(dir)).Observe(t.MbitPerSecond)
	}

	s := h.sessionFor(req)
	if s == nil {
		return
	}
	var ci *model.ConnectionInfo
	if info, ok := netx.FromContext(req.Context()); ok {
		read, written := info.ByteCounters()
		ci = &model.ConnectionInfo{
			UUID:         info.UUID(),
			BytesRead:    int64(read),
			BytesWritten: int64(written),
		}
		t.UUID = ci.UUID
		// TCP_INFO is not available on every platform.
		if tcpInfo, err := info.TCPInfo(); err == nil {
			ci.TCPInfo = tcpInfo
		}
	}
	s.addTransfer(t, ci)
}

// parseSizeMB parses the sizeMb parameter. Missing or malformed values
// yield spec.DefaultServerSizeMB. Clamping is left to the caller.
func parseSizeMB(s string) float64 {
	if s == "" {
		return spec.DefaultServerSizeMB
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) {
		return spec.DefaultServerSizeMB
	}
	return v
}

// clientIP returns the first X-Forwarded-For entry if present, otherwise
// the host part of the remote address. IPv4-mapped IPv6 prefixes are
// removed.
func clientIP(req *http.Request) string {
	ip := ""
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if ip == "" {
		host, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			host = req.RemoteAddr
		}
		ip = host
	}
	return strings.TrimPrefix(ip, "::ffff:")
}

// writeJSON writes v as the JSON response body with the given status code.
func writeJSON(rw http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	rw.Write(b)
}
