// Package relay holds the room and session state machine for the relay drawing game.
//
// How to play
// - The host creates a room with a key of their choosing, and becomes seat 0
// - Other players join with the key (and the passphrase, if the room has one)
// - Once every seat is ready, round 1 starts and each player writes a prompt
// - Papers then move one seat to the right every round
// - Even rounds illustrate the text on the paper received, odd rounds describe the drawing
// - After the last round every paper is revealed in its author's seat order
// - Players like or unlike any contribution during the reveal
//
// Implementation details:
// - Seat ids are stable for the length of a game; lobby departures compact them
// - A dropped connection holds its seat open for a grace period before it is purged
// - The host leaving, by any path, closes the room
// - Every room has its own lock; handlers for different rooms never coordinate
package relay
