// Package chat manages a chat channel connection through its asynchronous
// lifecycle: initialization, connect (authenticated or anonymous), the
// connected/disconnected cycle, and shutdown. It keeps the channel roster
// and a bounded message history current from the service's events.
package chat
