package main

import (
	"crypto/rand"
	"sync"
	"time"
)

const sessionCodeLength = 6

// Registry is the process-wide map of session code to session, plus the
// index that resolves which session a disconnecting connection belongs to.
// It is the only structure shared across sessions; per-session mutation is
// serialized by each Session's own lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	conns    map[ConnID]string
}

func newRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		conns:    make(map[ConnID]string),
	}
}

// getOrCreate returns the session for code, creating an empty lobby on the
// first join to an unknown code.
func (reg *Registry) getOrCreate(code string) *Session {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if s, ok := reg.sessions[code]; ok {
		return s
	}

	s := newSession(code)
	reg.sessions[code] = s
	return s
}

func (reg *Registry) get(code string) *Session {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return reg.sessions[code]
}

// removeIfEmptyLobby deletes the session only if it is still an empty
// lobby, re-checking under both locks so a join racing the deletion wins.
// Empty playing/finished sessions are retained so navigating players can
// rejoin without losing turn order or scores. Lock order is always registry
// then session, never the reverse.
func (reg *Registry) removeIfEmptyLobby(code string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	s, ok := reg.sessions[code]
	if !ok {
		return false
	}

	s.mu.Lock()
	empty := len(s.Players) == 0 && s.Phase == PhaseLobby
	if empty {
		s.dead = true
	}
	s.mu.Unlock()

	if empty {
		delete(reg.sessions, code)
	}
	return empty
}

func (reg *Registry) bindConn(id ConnID, code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.conns[id] = code
}

func (reg *Registry) lookupConn(id ConnID) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	code, ok := reg.conns[id]
	return code, ok
}

func (reg *Registry) dropConn(id ConnID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.conns, id)
}

func (reg *Registry) sessionCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.sessions)
}

// reapIdleLobbies deletes lobby-phase sessions idle longer than maxIdle,
// covering sockets that died without a close frame. Playing and finished
// sessions are never reaped, no matter how long they sit empty.
func (reg *Registry) reapIdleLobbies(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reaped := 0
	for code, s := range reg.sessions {
		s.mu.Lock()
		idleLobby := s.Phase == PhaseLobby && len(s.subs) == 0 && s.LastActive.Before(cutoff)
		if idleLobby {
			s.dead = true
		}
		s.mu.Unlock()

		if idleLobby {
			delete(reg.sessions, code)
			reaped++
		}
	}
	return reaped
}

// generateSessionCode returns a fixed-length uppercase-alphanumeric code.
// Collisions are not re-rolled against existing codes.
func generateSessionCode() string {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Bytes at or above the largest multiple of len(chars) are rejected;
	// taking them modulo 36 would over-represent the front of the alphabet.
	const limit = byte(256 - 256%len(chars))

	out := make([]byte, 0, sessionCodeLength)
	buf := make([]byte, sessionCodeLength)

	for len(out) < sessionCodeLength {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		for _, b := range buf {
			if b >= limit || len(out) == sessionCodeLength {
				continue
			}
			out = append(out, chars[int(b)%len(chars)])
		}
	}

	return string(out)
}
