// Package presence keeps the list of users connected to a project.
package presence

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/byteforge/forgelive/internal/ws"
)

// Kick describes this client being removed from the project by another user.
type Kick struct {
	Message  string
	KickedBy string
}

// Roster tracks online users keyed by session id. A user may appear more than
// once if connected from several sessions.
type Roster struct {
	// OnChange is called after every roster update with a fresh snapshot.
	OnChange func([]ws.User)
	// OnKicked is called when the server removes this client.
	OnKicked func(Kick)

	log *slog.Logger

	mu    sync.Mutex
	users map[string]ws.User
}

func NewRoster(logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{log: logger, users: make(map[string]ws.User)}
}

// sessionKey falls back to the user id for servers that omit session ids.
func sessionKey(u ws.User) string {
	if u.SessionID != "" {
		return u.SessionID
	}
	return "user:" + u.ID.String()
}

// Users returns the roster sorted by username, then session.
func (r *Roster) Users() []ws.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersLocked()
}

func (r *Roster) usersLocked() []ws.User {
	out := make([]ws.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b ws.User) int {
		if c := cmp.Compare(a.Username, b.Username); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Online reports whether any session of userID is present.
func (r *Roster) Online(userID ws.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// HandleEvent applies presence events. Other events are ignored.
func (r *Roster) HandleEvent(ev ws.Event) error {
	switch e := ev.(type) {
	case *ws.OnlineUsers:
		r.update(func() {
			r.users = make(map[string]ws.User, len(e.Users))
			for _, u := range e.Users {
				r.users[sessionKey(u)] = u
			}
			if e.Count != len(e.Users) {
				r.log.Debug("online user count mismatch", "count", e.Count, "users", len(e.Users))
			}
		})
	case *ws.UserJoined:
		r.update(func() { r.users[sessionKey(e.User)] = e.User })
	case *ws.UserLeft:
		r.update(func() { delete(r.users, sessionKey(e.User)) })
	case *ws.UserKickedBroadcast:
		r.log.Info("user kicked", "user_id", e.UserID, "by", e.KickedByUsername)
		r.update(func() {
			for k, u := range r.users {
				if u.ID == e.UserID {
					delete(r.users, k)
				}
			}
		})
	case *ws.UserKicked:
		r.log.Warn("removed from project", "by", e.KickedBy, "message", e.Message)
		if r.OnKicked != nil {
			r.OnKicked(Kick{Message: e.Message, KickedBy: e.KickedBy})
		}
	}
	return nil
}

func (r *Roster) update(fn func()) {
	r.mu.Lock()
	fn()
	snap := r.usersLocked()
	onChange := r.OnChange
	r.mu.Unlock()
	if onChange != nil {
		onChange(snap)
	}
}
