// Package telegraph implements the client side of the telegraph
// channel-status push protocol: an incremental frame decoder for its
// line-oriented, hex-length-prefixed framing, a tolerant parser for the
// ampersand-delimited property bodies, and a TCP client that subscribes to
// one channel and reports viewer counts and up/down transitions.
//
// Wire format, per frame:
//
//	<message type>\n
//	<body length, hexadecimal ASCII>\n
//	<body bytes>\n\0
//
// The first message on a connection is the bare token SUBSCRIBED\0 with no
// length line.
package telegraph
