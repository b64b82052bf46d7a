// Package sdk defines the boundary to the broadcasting SDK that the session
// managers drive: the asynchronous request surface of the broadcast and chat
// services, the completion events they deliver, and the opaque values
// (tokens, channel info, ingest servers) those completions carry.
//
// Completions are never delivered by callback. Each service queues them and
// hands them out in order from its poll call, so the session that owns the
// service decides exactly when state changes happen. [Loopback] is a
// deterministic in-process implementation used by tests and by the CLI's
// simulated mode.
package sdk
