package core

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTransaction() Transaction {
	return NewTransaction("user-1", decimal.NewFromInt(10), TypeExpense, "FOOD", "lunch",
		time.Date(2024, time.March, 2, 12, 30, 0, 0, time.UTC))
}

func TestNewTransaction(t *testing.T) {
	tx := validTransaction()
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "🍽️", tx.Emoji)
	require.NoError(t, tx.Validate())

	other := validTransaction()
	assert.NotEqual(t, tx.ID, other.ID, "ids must never be reused")

	now := NewTransaction("u", decimal.NewFromInt(1), TypeIncome, "SALARY", "", time.Time{})
	assert.WithinDuration(t, time.Now(), now.Date, time.Minute)
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{"valid", func(*Transaction) {}, nil},
		{"zero amount", func(tx *Transaction) { tx.Amount = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-5) }, ErrInvalidAmount},
		{"bad type", func(tx *Transaction) { tx.Type = "TRANSFER" }, ErrInvalidType},
		{"bad category", func(tx *Transaction) { tx.Category = "PETS" }, ErrInvalidCategory},
		{"no user", func(tx *Transaction) { tx.UserID = "" }, ErrEmptyUserID},
		{"no id", func(tx *Transaction) { tx.ID = "" }, ErrEmptyID},
		{"zero date", func(tx *Transaction) { tx.Date = time.Time{} }, ErrZeroDate},
		{"long cjk description", func(tx *Transaction) { tx.Description = strings.Repeat("午", 300) }, nil},
		// category and type are independent fields
		{"mismatched category accepted", func(tx *Transaction) { tx.Category = "SALARY" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			err := tx.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTransactionSignedAndDay(t *testing.T) {
	tx := validTransaction()
	assert.True(t, tx.Signed().Equal(decimal.NewFromInt(-10)))

	tx.Type = TypeIncome
	assert.True(t, tx.Signed().Equal(decimal.NewFromInt(10)))

	assert.Equal(t, time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC), tx.Day())
}

func TestNewUser(t *testing.T) {
	u := NewUser(" ", "13800000000", "hash")
	assert.Equal(t, DefaultUsername, u.Username)
	assert.Equal(t, DefaultAvatar, u.Avatar)
	assert.NotEmpty(t, u.ID)
	require.NoError(t, u.Validate())

	u.Phone = ""
	assert.ErrorIs(t, u.Validate(), ErrEmptyPhone)
}
