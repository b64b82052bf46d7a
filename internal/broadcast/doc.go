// Package broadcast sequences a broadcaster's asynchronous setup requests
// (auth token, login, ingest lookup) into a single ordered lifecycle and
// manages the capture buffers of a running stream.
//
// A [Session] never spawns goroutines. The caller drives it by calling
// [Session.Flush] periodically; each flush applies the completions the
// service has queued and then issues at most one request that advances the
// lifecycle. Failed steps revert to the last stable state and are retried
// on a later flush.
package broadcast
