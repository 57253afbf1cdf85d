// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"sync"
)

const (
	MaxUsernameLen  = 36
	DefaultUsername = "guest"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// User is shared by the registry, channels and the signal adapter, so the
// display name is only reachable through its lock.
type User struct {
	ID ParticipantID

	mu       sync.RWMutex
	username string
}

// UserInfo is a point-in-time copy of a User.
type UserInfo struct {
	ID       ParticipantID `json:"id"`
	Username string        `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id ParticipantID) *User {
	return &User{ID: id, username: DefaultUsername}
}

func (u *User) Username() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.username
}

func (u *User) SetUsername(username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	u.mu.Lock()
	u.username = username
	u.mu.Unlock()
	return nil
}

func (u *User) Snapshot() UserInfo {
	return UserInfo{ID: u.ID, Username: u.Username()}
}

func validateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
