package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAvatar is assigned to newly registered users.
const (
	DefaultAvatar   = "🐱"
	DefaultUsername = "用户"
)

type (
	Transaction struct {
		ID          string
		UserID      string
		Amount      decimal.Decimal // always positive, sign comes from Type
		Type        Type
		Category    Category
		Description string
		Date        time.Time
		Emoji       string
	}

	User struct {
		ID                string
		Username          string
		Phone             string
		PasswordHash      string
		Avatar            string
		TotalDays         int
		TotalTransactions int
		CreatedAt         time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrEmptyUserID      = errors.New("empty user id")
	ErrEmptyID          = errors.New("empty transaction id")
	ErrZeroDate         = errors.New("date cannot be zero")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmptyPhone       = errors.New("empty phone")
	ErrEmptyUsername    = errors.New("empty username")
)

// NewTransaction builds a transaction with a fresh id. A zero date becomes
// now and an empty emoji falls back to the category glyph.
func NewTransaction(userID string, amount decimal.Decimal, t Type, c Category, description string, date time.Time) Transaction {
	if date.IsZero() {
		date = time.Now()
	}
	return Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Type:        t,
		Category:    c,
		Description: strings.TrimSpace(description),
		Date:        date,
		Emoji:       c.Emoji(),
	}
}

// Validate checks the fields every stored transaction must satisfy.
// Category and type are not cross-checked, see Category.Matches. The
// description is free text of any length.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return ErrEmptyID
	}
	if t.UserID == "" {
		return ErrEmptyUserID
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !t.Type.IsValid() {
		return ErrInvalidType
	}
	if !t.Category.IsValid() {
		return ErrInvalidCategory
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// Signed returns the amount with the sign implied by the type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Day truncates the transaction timestamp to its calendar date.
func (t Transaction) Day() time.Time {
	y, m, d := t.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Date.Location())
}

// NewUser creates a user with a fresh id and default avatar.
func NewUser(username, phone, passwordHash string) User {
	if strings.TrimSpace(username) == "" {
		username = DefaultUsername
	}
	return User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(username),
		Phone:        strings.TrimSpace(phone),
		PasswordHash: passwordHash,
		Avatar:       DefaultAvatar,
		CreatedAt:    time.Now(),
	}
}

func (u User) Validate() error {
	if u.ID == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(u.Phone) == "" {
		return ErrEmptyPhone
	}
	if strings.TrimSpace(u.Username) == "" {
		return ErrEmptyUsername
	}
	return nil
}
