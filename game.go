package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Game processes inbound realtime events against the session registry. Each
// handler runs to completion holding the target session's lock, so two
// events for the same code can never observe half-applied state; events for
// different codes run fully in parallel.
type Game struct {
	cfg   *Config
	reg   *Registry
	grids GridStore
}

func newGame(cfg *Config, reg *Registry, grids GridStore) *Game {
	return &Game{cfg: cfg, reg: reg, grids: grids}
}

func sendError(c Sender, err *GameError) {
	if c == nil {
		return
	}
	c.Send(ErrorMessage{Type: "error", Kind: err.Kind, Message: err.Message})
}

// Join attaches a connection to a session, reconciling the durable key
// against any previous incarnation so reconnects keep answers, scores and
// grid selection. A connection previously mapped to a different session is
// removed from that session first.
func (g *Game) Join(c Sender, id ConnID, msg ClientMessage) {
	if msg.Code == "" || msg.UserID == "" || msg.Name == "" {
		sendError(c, validationError("join requires a session code, user id, and name"))
		return
	}

	if old, ok := g.reg.lookupConn(id); ok && old != msg.Code {
		g.leaveSession(id, old)
		g.reg.dropConn(id)
	}

	// A disconnect emptying this lobby can delete it between getOrCreate and
	// the lock acquisition below; inserting into that ghost would strand the
	// joiner with no registered session. Deletion marks the session dead
	// under its own lock, so re-resolving the code on observing the flag
	// always lands on (or creates) the live session.
	var sess *Session
	for {
		sess = g.reg.getOrCreate(msg.Code)
		sess.mu.Lock()
		if !sess.dead {
			break
		}
		sess.mu.Unlock()
	}

	if sess.Phase == PhaseFinished && sess.playerByUserLocked(UserID(msg.UserID)) == nil {
		sess.mu.Unlock()
		sendError(c, validationError("game %s has already finished", msg.Code))
		return
	}

	if sess.playerByUserLocked(UserID(msg.UserID)) == nil && len(sess.Players) >= maxSessionPlayers {
		sess.mu.Unlock()
		sendError(c, validationError("session %s is full", msg.Code))
		return
	}

	player := sess.reconcileLocked(id, UserID(msg.UserID), msg.Name, msg.PhotoURL, Role(msg.Role), msg.GridID)
	sess.subscribeLocked(id, c)

	logf(g.cfg, "GAMES: %q joined %s as %s (%d players, phase %s)",
		player.Name, sess.Code, player.Role, len(sess.Players), sess.Phase)

	sess.broadcastLocked(SessionMessage{Type: "room-update", Session: sess.viewLocked()})
	sess.mu.Unlock()

	g.reg.bindConn(id, msg.Code)
}

// leaveSession removes the player entry routed by id from its old session
// and applies the retention rule if that empties it. The registry lock is
// never taken while the session lock is held.
func (g *Game) leaveSession(id ConnID, code string) {
	sess := g.reg.get(code)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	sess.unsubscribeLocked(id)
	removed := sess.removeByConnLocked(id)
	empty := len(sess.Players) == 0

	if !empty && removed {
		sess.broadcastLocked(SessionMessage{Type: "room-update", Session: sess.viewLocked()})
	}
	sess.mu.Unlock()

	if empty && g.reg.removeIfEmptyLobby(code) {
		logf(g.cfg, "GAMES: Deleted empty lobby %s", code)
	}
}

// ToggleReady flips the ready flag of the player behind the connection.
// Unknown sessions and players are silent no-ops, tolerating stale tabs.
func (g *Game) ToggleReady(c Sender, id ConnID, code string) {
	sess := g.reg.get(code)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	player := sess.playerByConnLocked(id)
	if player == nil || sess.Phase != PhaseLobby {
		return
	}

	player.Ready = !player.Ready
	sess.LastActive = time.Now()

	logf(g.cfg, "GAMES: %q in %s is now ready=%v", player.Name, code, player.Ready)
	sess.broadcastLocked(SessionMessage{Type: "room-update", Session: sess.viewLocked()})
}

// SelectGrid records which saved grid this player wants in play on their
// turn.
func (g *Game) SelectGrid(c Sender, id ConnID, code, gridID string) {
	sess := g.reg.get(code)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	player := sess.playerByConnLocked(id)
	if player == nil {
		return
	}

	player.GridID = gridID
	sess.LastActive = time.Now()

	logf(g.cfg, "GAMES: %q in %s selected grid %s", player.Name, code, gridID)
	sess.broadcastLocked(SessionMessage{Type: "room-update", Session: sess.viewLocked()})
}

// Start transitions a lobby to playing: freezes the turn order by join time,
// resolves the first owner's grid, and broadcasts the opening round. Any
// failure leaves the phase untouched and reports back to the host only.
func (g *Game) Start(ctx context.Context, c Sender, id ConnID, code string) {
	sess := g.reg.get(code)
	if sess == nil {
		sendError(c, notFoundError("session not found: %s", code))
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	player := sess.playerByConnLocked(id)
	if player == nil || player.Role != RoleHost {
		sendError(c, authorizationError("only the host can start the game"))
		return
	}

	if sess.Phase != PhaseLobby {
		sendError(c, validationError("game in %s has already started", code))
		return
	}

	for _, p := range sess.Players {
		if !p.Ready {
			sendError(c, validationError("all players must be ready to start the game"))
			return
		}
	}
	for _, p := range sess.Players {
		if p.GridID == "" {
			sendError(c, validationError("all players must select a grid before starting"))
			return
		}
	}

	order := sess.buildTurnOrderLocked()
	owner := sess.playerByUserLocked(order[0])

	question, gerr := g.fetchQuestion(ctx, owner)
	if gerr != nil {
		sendError(c, gerr)
		return
	}

	sess.Phase = PhasePlaying
	sess.TurnOrder = order
	sess.TurnIndex = 0
	sess.Question = question
	sess.StartedAt = time.Now()
	sess.LastActive = sess.StartedAt

	logf(g.cfg, "GAMES: Started %s with %d players, first grid %q by %q",
		code, len(order), question.GridTitle, owner.Name)

	sess.broadcastLocked(SessionMessage{Type: "game-started", Session: sess.viewLocked()})
}

// SubmitAnswer records a pick for the current round. Duplicate submissions,
// out-of-phase submissions, and unknown players are silent no-ops so network
// retransmits and double-clicks can't corrupt the tally.
func (g *Game) SubmitAnswer(c Sender, id ConnID, code string, choice int) {
	sess := g.reg.get(code)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Phase != PhasePlaying || sess.Question == nil {
		return
	}

	player := sess.playerByConnLocked(id)
	if player == nil {
		return
	}

	round := sess.TurnIndex
	if _, answered := player.Answers[round]; answered {
		logf(g.cfg, "GAMES: %q already answered round %d in %s", player.Name, round, code)
		return
	}

	score := 0
	if choice == sess.Question.TrueIndex {
		score = 1
	}
	player.Answers[round] = choice
	player.Scores[round] = score
	sess.LastActive = time.Now()

	counts := sess.voteCountsLocked(round)

	logf(g.cfg, "GAMES: %q answered %d (score %d) in %s round %d, votes %v",
		player.Name, choice, score, code, round, counts)

	view := sess.viewLocked()
	if sess.allAnsweredLocked(round) {
		sess.broadcastLocked(SessionMessage{Type: "round-complete", Session: view, VoteCounts: counts})
	} else {
		sess.broadcastLocked(SessionMessage{Type: "answer-submitted", Session: view, VoteCounts: counts})
	}
}

// ForceShowResults lets the host reveal the tally without waiting for every
// player to answer, for skipping slow rounds.
func (g *Game) ForceShowResults(c Sender, id ConnID, code string) {
	sess := g.reg.get(code)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Phase != PhasePlaying || sess.Question == nil {
		return
	}

	player := sess.playerByConnLocked(id)
	if player == nil || player.Role != RoleHost {
		sendError(c, authorizationError("only the host can force show results"))
		return
	}

	counts := sess.voteCountsLocked(sess.TurnIndex)
	sess.LastActive = time.Now()

	logf(g.cfg, "GAMES: Host forced results in %s round %d, votes %v", code, sess.TurnIndex, counts)
	sess.broadcastLocked(SessionMessage{Type: "round-complete", Session: sess.viewLocked(), VoteCounts: counts})
}

// Advance moves to the next owner's grid, or finishes the game when the turn
// order is exhausted. Grid resolution failures leave the cursor where it
// was.
func (g *Game) Advance(ctx context.Context, c Sender, id ConnID, code string) {
	sess := g.reg.get(code)
	if sess == nil {
		sendError(c, notFoundError("session not found: %s", code))
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	player := sess.playerByConnLocked(id)
	if player == nil || player.Role != RoleHost {
		sendError(c, authorizationError("only the host can advance rounds"))
		return
	}

	if sess.Phase != PhasePlaying {
		sendError(c, validationError("game in %s is not in progress", code))
		return
	}

	next := sess.TurnIndex + 1
	if next >= len(sess.TurnOrder) {
		sess.Phase = PhaseFinished
		for _, p := range sess.Players {
			total := 0
			for _, s := range p.Scores {
				total += s
			}
			p.TotalScore = total
		}
		sess.LastActive = time.Now()

		logf(g.cfg, "GAMES: Finished %s after %d rounds", code, len(sess.TurnOrder))
		sess.broadcastLocked(SessionMessage{Type: "game-finished", Session: sess.viewLocked()})
		return
	}

	owner := sess.playerByUserLocked(sess.TurnOrder[next])
	if owner == nil {
		sendError(c, notFoundError("next grid owner is not in the session"))
		return
	}
	if owner.GridID == "" {
		sendError(c, validationError("%s hasn't selected a grid", owner.Name))
		return
	}

	question, gerr := g.fetchQuestion(ctx, owner)
	if gerr != nil {
		sendError(c, gerr)
		return
	}

	sess.TurnIndex = next
	sess.Question = question
	sess.StartedAt = time.Now()
	sess.LastActive = sess.StartedAt

	logf(g.cfg, "GAMES: Round %d/%d started in %s with grid %q by %q",
		next+1, len(sess.TurnOrder), code, question.GridTitle, owner.Name)

	sess.broadcastLocked(SessionMessage{Type: "round-started", Session: sess.viewLocked()})
}

// Disconnect updates routing state after a connection drops. Empty lobbies
// are deleted immediately; empty playing or finished sessions are retained
// indefinitely, since their players are usually mid-navigation and deleting
// them would lose turn order and scores irrecoverably.
func (g *Game) Disconnect(id ConnID) {
	code, ok := g.reg.lookupConn(id)
	if ok {
		sess := g.reg.get(code)
		if sess != nil {
			sess.mu.Lock()
			sess.unsubscribeLocked(id)
			removed := sess.removeByConnLocked(id)
			empty := len(sess.Players) == 0

			if empty && sess.Phase != PhaseLobby {
				logf(g.cfg, "GAMES: Retaining empty %s session %s (round %d/%d)",
					sess.Phase, code, sess.TurnIndex+1, len(sess.TurnOrder))
			} else if !empty && removed {
				logf(g.cfg, "GAMES: Connection %s left %s (%d players remain)", id, code, len(sess.Players))
				sess.broadcastLocked(SessionMessage{Type: "room-update", Session: sess.viewLocked()})
			}
			sess.mu.Unlock()

			if empty && g.reg.removeIfEmptyLobby(code) {
				logf(g.cfg, "GAMES: Deleted empty lobby %s", code)
			}
		}
	}

	g.reg.dropConn(id)
}

// fetchQuestion resolves the owner's selected grid through the grid store
// under a bounded timeout, then freezes it into the active question.
func (g *Game) fetchQuestion(ctx context.Context, owner *Player) (*ActiveQuestion, *GameError) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.gridTimeout)
	defer cancel()

	grid, err := g.grids.FetchGridByID(ctx, owner.UserID, owner.GridID)
	if errors.Is(err, errGridNotFound) {
		return nil, notFoundError("%s's selected grid was not found", owner.Name)
	}
	if err != nil {
		return nil, upstreamError(err, "failed to load %s's grid", owner.Name)
	}

	return &ActiveQuestion{
		Prompt:     fmt.Sprintf("Which statement is TRUE about %s?", owner.Name),
		Statements: append([]string(nil), grid.Statements...),
		TrueIndex:  grid.TrueIndex,
		OwnerName:  owner.Name,
		GridTitle:  grid.Title,
	}, nil
}
