package handler

import (
	"sync"
	"time"

	"github.com/filecatalog/speedtest/pkg/speedtest/model"
	"github.com/filecatalog/speedtest/pkg/version"
	"github.com/m-lab/go/prometheusx"
)

// session is the in-memory state of one client measurement, identified by
// the measurement ID the client attaches to its requests.
type session struct {
	id        string
	startTime time.Time
	client    string
	server    string

	mu          sync.Mutex
	pings       int
	transfers   []model.Transfer
	connections []model.ConnectionInfo
}

func newSession(id, client, server string) *session {
	return &session{
		id:        id,
		startTime: time.Now(),
		client:    client,
		server:    server,
	}
}

func (s *session) addPing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
}

func (s *session) addTransfer(t model.Transfer, ci *model.ConnectionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, t)
	if ci != nil {
		s.connections = append(s.connections, *ci)
	}
}

// summarize returns the session's public summary.
func (s *session) summarize() *model.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &model.SessionSummary{
		ID:        s.id,
		StartTime: s.startTime,
		Pings:     s.pings,
		Transfers: append([]model.Transfer{}, s.transfers...),
	}
}

// archive converts the session to ArchivalData.
func (s *session) archive() *model.ArchivalData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &model.ArchivalData{
		GitShortCommit: prometheusx.GitShortCommit,
		Version:        version.Version,
		ID:             s.id,
		StartTime:      s.startTime,
		Client:         s.client,
		Server:         s.server,
		Pings:          s.pings,
		Transfers:      append([]model.Transfer{}, s.transfers...),
		Connections:    append([]model.ConnectionInfo{}, s.connections...),
	}
}
