package main

import (
	"time"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "join", "toggle-ready", "select-grid", "start", "submit-answer", "force-show-results", "advance-round"
	Code     string `json:"code,omitempty"`     // session code, required for everything but implicit disconnects
	UserID   string `json:"userId,omitempty"`   // join: durable account id
	Name     string `json:"name,omitempty"`     // join
	PhotoURL string `json:"photoUrl,omitempty"` // join
	Role     string `json:"role,omitempty"`     // join: "Host" or "Player"
	GridID   string `json:"gridId,omitempty"`   // join / select-grid
	Choice   *int   `json:"choice,omitempty"`   // submit-answer: statement index 0-4
}

// PlayerView is the broadcast form of one player.
type PlayerView struct {
	ConnID     ConnID      `json:"id"`
	UserID     UserID      `json:"userId"`
	Name       string      `json:"name"`
	PhotoURL   string      `json:"photoUrl,omitempty"`
	Role       Role        `json:"role"`
	Ready      bool        `json:"ready"`
	GridID     string      `json:"selectedGridId,omitempty"`
	Answers    map[int]int `json:"answers"`
	Scores     map[int]int `json:"scores"`
	TotalScore int         `json:"totalScore"`
	JoinedAt   time.Time   `json:"joinedAt"`
}

// SessionView is the full-state snapshot broadcast to every connection in a
// session. Built while holding the session lock so later mutation can't race
// the websocket write pumps.
type SessionView struct {
	Code      string          `json:"code"`
	Phase     Phase           `json:"phase"`
	Players   []PlayerView    `json:"players"`
	TurnOrder []UserID        `json:"turnOrder,omitempty"`
	TurnIndex int             `json:"turnIndex"`
	Question  *ActiveQuestion `json:"activeQuestion,omitempty"`
	StartedAt time.Time       `json:"startedAt,omitzero"`
}

// SessionMessage carries a session snapshot, and for tally events the
// per-statement vote histogram.
type SessionMessage struct {
	Type       string      `json:"type"` // "room-update", "game-started", "round-started", "answer-submitted", "round-complete", "game-finished"
	Session    SessionView `json:"session"`
	VoteCounts []int       `json:"voteCounts,omitempty"`
}

// ErrorMessage is sent only to the requesting connection, never broadcast.
type ErrorMessage struct {
	Type    string    `json:"type"` // "error"
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
