package games

// Each player saves one or more "grids": a title plus five statements about
// themselves, exactly one of them true
// Players join a session by shareable code, pick which of their grids to put
// in play, and ready up
// The host starts the game; turn order is fixed by join time and one grid is
// in play per round
// Everyone votes on which statement is true about the round's owner; a
// correct pick scores one point
// When every present player has voted (or the host forces the reveal), the
// per-statement vote tally is shown
// The host advances through each player's grid in turn; totals are summed
// when the order is exhausted

// Implementation details:
// - One websocket endpoint; the session code travels in each join event
// - Players are identified by a durable account id, not the socket, so a
//   refresh mid-game reattaches to the same seat with answers and scores intact
// - Sessions that have started are never deleted while empty; unstarted
//   lobbies are
