// Package fsm provides the transition-table state machine shared by the chat
// and broadcast sessions. The legal transitions of a session are declared
// once as a table of (from, event) -> to rows; a Machine walks that table
// and refuses anything not in it.
package fsm
