package chat

import "github.com/zsiec/telegraph/internal/sdk"

// roster is the set of users in the channel, kept in join order.
type roster struct {
	order []string
	users map[string]sdk.ChatUser
}

func newRoster() *roster {
	return &roster{users: make(map[string]sdk.ChatUser)}
}

// apply removes the users that left, adds those that joined, then updates
// changed users, in that order.
func (r *roster) apply(ch *sdk.UserListChange) {
	for _, u := range ch.Left {
		r.remove(u.Name)
	}
	for _, u := range ch.Joined {
		if _, ok := r.users[u.Name]; !ok {
			r.order = append(r.order, u.Name)
		}
		r.users[u.Name] = u
	}
	for _, u := range ch.Updated {
		if _, ok := r.users[u.Name]; ok {
			r.users[u.Name] = u
		}
	}
}

func (r *roster) remove(name string) {
	if _, ok := r.users[name]; !ok {
		return
	}
	delete(r.users, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *roster) list() []sdk.ChatUser {
	out := make([]sdk.ChatUser, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.users[n])
	}
	return out
}

func (r *roster) size() int { return len(r.order) }

func (r *roster) reset() {
	r.order = nil
	clear(r.users)
}

// history is a bounded message log that drops the oldest entries first.
type history struct {
	limit int
	msgs  []sdk.ChatMessage
}

func (h *history) add(msgs []sdk.ChatMessage) {
	h.msgs = append(h.msgs, msgs...)
	if over := len(h.msgs) - h.limit; over > 0 {
		h.msgs = append(h.msgs[:0], h.msgs[over:]...)
	}
}

func (h *history) list() []sdk.ChatMessage {
	return append([]sdk.ChatMessage(nil), h.msgs...)
}

func (h *history) reset() { h.msgs = nil }
