package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTurnOrder(t *testing.T) {
	s := newSession("ABC123")

	base := time.Now()
	s.Players = []*Player{
		{UserID: "late", JoinedAt: base.Add(2 * time.Second)},
		{UserID: "first", JoinedAt: base},
		{UserID: "middle", JoinedAt: base.Add(time.Second)},
	}

	assert.Equal(t, []UserID{"first", "middle", "late"}, s.buildTurnOrderLocked())

	t.Run("ties break by seat order", func(t *testing.T) {
		s.Players = []*Player{
			{UserID: "a", JoinedAt: base},
			{UserID: "b", JoinedAt: base},
			{UserID: "c", JoinedAt: base},
		}

		assert.Equal(t, []UserID{"a", "b", "c"}, s.buildTurnOrderLocked())
	})
}

func TestVoteCounts(t *testing.T) {
	s := newSession("ABC123")
	s.Question = &ActiveQuestion{Statements: make([]string, 5)}
	s.Players = []*Player{
		{UserID: "u1", Answers: map[int]int{0: 0}},
		{UserID: "u2", Answers: map[int]int{0: 0, 1: 4}},
		{UserID: "u3", Answers: map[int]int{0: 2}},
		{UserID: "u4", Answers: map[int]int{1: 9}},
	}

	assert.Equal(t, []int{2, 0, 1, 0, 0}, s.voteCountsLocked(0))
	assert.Equal(t, []int{0, 0, 0, 0, 1}, s.voteCountsLocked(1),
		"out-of-range picks are dropped from the histogram")
	assert.Equal(t, []int{0, 0, 0, 0, 0}, s.voteCountsLocked(7))

	s.Question = nil
	assert.Nil(t, s.voteCountsLocked(0))
}

func TestAllAnswered(t *testing.T) {
	s := newSession("ABC123")

	assert.False(t, s.allAnsweredLocked(0), "an empty session never completes a round")

	s.Players = []*Player{
		{UserID: "u1", Answers: map[int]int{0: 1}},
		{UserID: "u2", Answers: map[int]int{}},
	}
	assert.False(t, s.allAnsweredLocked(0))

	s.Players[1].Answers[0] = 3
	assert.True(t, s.allAnsweredLocked(0))
}

func TestViewSnapshotIsolation(t *testing.T) {
	s := newSession("ABC123")
	s.Question = &ActiveQuestion{Statements: []string{"a", "b", "c", "d", "e"}}
	s.Players = []*Player{
		{UserID: "u1", Answers: map[int]int{0: 1}, Scores: map[int]int{0: 1}},
	}
	s.TurnOrder = []UserID{"u1"}

	view := s.viewLocked()

	s.Players[0].Answers[1] = 4
	s.Players[0].Scores[1] = 0
	s.Question.Statements[0] = "mutated"
	s.TurnOrder[0] = "other"

	require.Len(t, view.Players, 1)
	assert.Equal(t, map[int]int{0: 1}, view.Players[0].Answers)
	assert.Equal(t, map[int]int{0: 1}, view.Players[0].Scores)
	assert.Equal(t, "a", view.Question.Statements[0])
	assert.Equal(t, []UserID{"u1"}, view.TurnOrder)
}

func TestBroadcastDropsDeadSubscribers(t *testing.T) {
	s := newSession("ABC123")

	live := &fakeConn{}
	s.subscribeLocked("c1", live)
	s.subscribeLocked("c2", deadSender{})

	s.broadcastLocked(SessionMessage{Type: "room-update"})

	assert.Len(t, s.subs, 1)
	assert.True(t, live.hasType("room-update"))

	s.unsubscribeLocked("c1")
	assert.Empty(t, s.subs)
}

type deadSender struct{}

func (deadSender) Send(any) bool { return false }
