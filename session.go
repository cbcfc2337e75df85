package main

import (
	"sort"
	"sync"
	"time"
)

// ConnID identifies one live websocket connection. It is reassigned on every
// reconnect and is only ever used for routing, never for identity
// comparisons across a round boundary.
type ConnID string

// UserID is the durable account identifier handed out by the authenticator.
// It is the only key that survives reconnects, so turn order, answers and
// scores all hang off it.
type UserID string

type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

type Role string

const (
	RoleHost   Role = "Host"
	RolePlayer Role = "Player"
)

const maxSessionPlayers = 12

// Player is one seat in a session, keyed by UserID. The ConnID changes every
// time the same account reconnects; answers and scores are keyed by round
// number and are set together, exactly once per answered round.
type Player struct {
	ConnID     ConnID
	UserID     UserID
	Name       string
	PhotoURL   string
	Role       Role
	Ready      bool
	GridID     string
	Answers    map[int]int
	Scores     map[int]int
	TotalScore int
	JoinedAt   time.Time
}

// ActiveQuestion is the statement set currently in play. Statement order is
// preserved verbatim from grid-save time so vote indices agree across every
// connected client.
type ActiveQuestion struct {
	Prompt     string   `json:"prompt"`
	Statements []string `json:"statements"`
	TrueIndex  int      `json:"trueStatementIndex"`
	OwnerName  string   `json:"ownerName"`
	GridTitle  string   `json:"gridTitle"`
}

// Session is one instance of the game, identified by a shareable code. All
// mutation happens with mu held, so events for the same code never
// interleave; independent sessions proceed in parallel.
type Session struct {
	mu sync.Mutex

	Code      string
	Phase     Phase
	Players   []*Player
	TurnOrder []UserID
	TurnIndex int
	Question  *ActiveQuestion
	StartedAt time.Time

	CreatedAt  time.Time
	LastActive time.Time

	// dead is set, with mu held, when the registry deletes this session.
	// A join that snapshotted the pointer before the deletion must observe
	// it and re-resolve the code instead of inserting into a ghost.
	dead bool

	subs map[ConnID]Sender
}

// Sender delivers one outbound message to a single connection. Send must not
// block; returning false marks the connection as dead.
type Sender interface {
	Send(msg any) bool
}

func newSession(code string) *Session {
	now := time.Now()
	return &Session{
		Code:       code,
		Phase:      PhaseLobby,
		CreatedAt:  now,
		LastActive: now,
		subs:       make(map[ConnID]Sender),
	}
}

// playerByConnLocked resolves the live routing key.
func (s *Session) playerByConnLocked(id ConnID) *Player {
	for _, p := range s.Players {
		if p.ConnID == id {
			return p
		}
	}
	return nil
}

// playerByUserLocked resolves the durable key.
func (s *Session) playerByUserLocked(id UserID) *Player {
	for _, p := range s.Players {
		if p.UserID == id {
			return p
		}
	}
	return nil
}

func (s *Session) hostLocked() *Player {
	for _, p := range s.Players {
		if p.Role == RoleHost {
			return p
		}
	}
	return nil
}

// removeByConnLocked drops the player entry routed by id, if any, and
// reports whether an entry was removed.
func (s *Session) removeByConnLocked(id ConnID) bool {
	dst := s.Players[:0]
	removed := false

	for _, p := range s.Players {
		if p.ConnID == id {
			removed = true
			continue
		}
		dst = append(dst, p)
	}
	s.Players = dst

	return removed
}

// reconcileLocked merges an incoming (connection id, durable key) pair into
// the player list. Any prior incarnation of the same durable key, and any
// stale entry under the same connection id, is collapsed before insertion;
// game progress carries forward from the previous incarnation. During an
// active game a rejoining player is readied automatically so it can't block
// round progression.
func (s *Session) reconcileLocked(id ConnID, userID UserID, name, photoURL string, requestedRole Role, gridID string) *Player {
	prev := s.playerByUserLocked(userID)

	dst := s.Players[:0]
	for _, p := range s.Players {
		if p.ConnID == id || p.UserID == userID {
			continue
		}
		dst = append(dst, p)
	}
	s.Players = dst

	player := &Player{
		ConnID:   id,
		UserID:   userID,
		Name:     name,
		PhotoURL: photoURL,
		Role:     requestedRole,
		Ready:    s.Phase == PhasePlaying,
		GridID:   gridID,
		Answers:  make(map[int]int),
		Scores:   make(map[int]int),
		JoinedAt: time.Now(),
	}

	if prev != nil {
		player.Role = prev.Role
		player.JoinedAt = prev.JoinedAt
		player.Answers = prev.Answers
		player.Scores = prev.Scores
		player.TotalScore = prev.TotalScore
		if prev.GridID != "" {
			player.GridID = prev.GridID
		}
	}

	// The creator fixes the Host seat; a second claimant joins as a regular
	// player instead.
	if player.Role != RoleHost && player.Role != RolePlayer {
		player.Role = RolePlayer
	}
	if player.Role == RoleHost {
		if host := s.hostLocked(); host != nil && host.UserID != userID {
			player.Role = RolePlayer
		}
	}

	s.Players = append(s.Players, player)
	s.LastActive = time.Now()

	return player
}

// buildTurnOrderLocked freezes whose grid is played in which round: durable
// keys ordered by join time ascending, ties broken by seat order.
func (s *Session) buildTurnOrderLocked() []UserID {
	seats := make([]*Player, len(s.Players))
	copy(seats, s.Players)

	sort.SliceStable(seats, func(i, j int) bool {
		return seats[i].JoinedAt.Before(seats[j].JoinedAt)
	})

	order := make([]UserID, 0, len(seats))
	for _, p := range seats {
		order = append(order, p.UserID)
	}
	return order
}

// voteCountsLocked recomputes the per-statement histogram for round by
// scanning every current player. Out-of-range picks are ignored.
func (s *Session) voteCountsLocked(round int) []int {
	if s.Question == nil {
		return nil
	}

	counts := make([]int, len(s.Question.Statements))
	for _, p := range s.Players {
		choice, ok := p.Answers[round]
		if ok && choice >= 0 && choice < len(counts) {
			counts[choice]++
		}
	}
	return counts
}

func (s *Session) allAnsweredLocked(round int) bool {
	for _, p := range s.Players {
		if _, ok := p.Answers[round]; !ok {
			return false
		}
	}
	return len(s.Players) > 0
}

// viewLocked snapshots the session for broadcast. Player answer/score maps
// are copied so the write pumps never observe later mutation.
func (s *Session) viewLocked() SessionView {
	players := make([]PlayerView, 0, len(s.Players))
	for _, p := range s.Players {
		answers := make(map[int]int, len(p.Answers))
		for k, v := range p.Answers {
			answers[k] = v
		}
		scores := make(map[int]int, len(p.Scores))
		for k, v := range p.Scores {
			scores[k] = v
		}

		players = append(players, PlayerView{
			ConnID:     p.ConnID,
			UserID:     p.UserID,
			Name:       p.Name,
			PhotoURL:   p.PhotoURL,
			Role:       p.Role,
			Ready:      p.Ready,
			GridID:     p.GridID,
			Answers:    answers,
			Scores:     scores,
			TotalScore: p.TotalScore,
			JoinedAt:   p.JoinedAt,
		})
	}

	var question *ActiveQuestion
	if s.Question != nil {
		q := *s.Question
		q.Statements = append([]string(nil), s.Question.Statements...)
		question = &q
	}

	return SessionView{
		Code:      s.Code,
		Phase:     s.Phase,
		Players:   players,
		TurnOrder: append([]UserID(nil), s.TurnOrder...),
		TurnIndex: s.TurnIndex,
		Question:  question,
		StartedAt: s.StartedAt,
	}
}

// broadcastLocked fans msg out to every connection in the session, dropping
// subscribers whose send buffers are full.
func (s *Session) broadcastLocked(msg any) {
	for id, sub := range s.subs {
		if !sub.Send(msg) {
			delete(s.subs, id)
		}
	}
}

func (s *Session) subscribeLocked(id ConnID, conn Sender) {
	s.subs[id] = conn
}

func (s *Session) unsubscribeLocked(id ConnID) {
	delete(s.subs, id)
}
