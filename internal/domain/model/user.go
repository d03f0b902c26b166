package model

import (
	"time"

	"marketplace-payments/internal/domain"

	"github.com/google/uuid"
)

// User is the account that owns transactions and an entitlement. Balance is
// a running credit in whole shillings: credited by the full paid amount on
// every successful transaction, debited when the proration sweep settles a
// tier change from it.
type User struct {
	ID           string
	Username     string
	Email        string
	Balance      int64
	RegisteredAt time.Time
	LastSeenAt   time.Time
}

func NewUser(id, username, email string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if username == "" || email == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:           id,
		Username:     username,
		Email:        email,
		RegisteredAt: now,
		LastSeenAt:   now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

func (u *User) Touch() { u.LastSeenAt = time.Now() }
