// Package session holds the identity of the signed-in user for one
// running application instance.
package session

import (
	"sync"

	"miaomiao/internal/core"
)

// Session is created once per process and passed to whoever needs the
// current user. It is never persisted.
type Session struct {
	mu        sync.RWMutex
	user      *core.User
	loggedIn  bool
	message   string
	listeners []func(*core.User)
}

func New() *Session {
	return &Session{}
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (s *Session) CurrentUser() *core.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.user)
}

// UserID returns the signed-in user's id and whether there is one.
func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return "", false
	}
	return s.user.ID, true
}

func (s *Session) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// SignIn makes u the active user. Listeners fire when the identity changes.
func (s *Session) SignIn(u core.User) {
	s.mu.Lock()
	changed := s.user == nil || s.user.ID != u.ID
	s.user = copyUser(&u)
	s.loggedIn = true
	s.message = ""
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	if changed {
		notify(listeners, copyUser(&u))
	}
}

// SignOut clears the user, the logged-in flag and any pending message.
func (s *Session) SignOut() {
	s.mu.Lock()
	changed := s.user != nil
	s.user = nil
	s.loggedIn = false
	s.message = ""
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	if changed {
		notify(listeners, nil)
	}
}

// Refresh replaces the cached user record if u is the active user. The
// identity does not change so listeners are not called.
func (s *Session) Refresh(u core.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.user.ID != u.ID {
		return false
	}
	s.user = copyUser(&u)
	return true
}

func (s *Session) Message() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message
}

func (s *Session) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

func (s *Session) ClearMessage() {
	s.SetMessage("")
}

// OnChange registers fn to run after every identity change, with the new
// user or nil on sign-out.
func (s *Session) OnChange(fn func(*core.User)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) snapshotListeners() []func(*core.User) {
	return append([]func(*core.User){}, s.listeners...)
}

func notify(listeners []func(*core.User), u *core.User) {
	for _, fn := range listeners {
		fn(copyUser(u))
	}
}

func copyUser(u *core.User) *core.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
