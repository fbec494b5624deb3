package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	errPlan := NewError(ErrValidation, "invalid plan")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"sentinel", errPlan, ErrValidation},
		{"wrapped sentinel", fmt.Errorf("purchase: %w", errPlan), ErrValidation},
		{"detail", Detailf(ErrInsufficientCredits, "need %d more", 10), ErrStateConflict},
		{"not found", fmt.Errorf("user 1: %w", ErrNotFound), ErrNotFound},
		{"unclassified", errors.New("connection refused"), nil},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestDetailf(t *testing.T) {
	err := Detailf(ErrDuplicate, "email %s already registered", "a@example.com")

	assert.Equal(t, "email a@example.com already registered", err.Error())
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.NotErrorIs(t, err, ErrInsufficientCredits)
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrInsufficientCredits))
	assert.True(t, IsClientError(NewError(ErrSecurity, "bad signature")))
	assert.True(t, IsClientError(fmt.Errorf("x: %w", ErrNotFound)))
	assert.False(t, IsClientError(NewError(ErrUpstream, "gateway down")))
	assert.False(t, IsClientError(errors.New("disk full")))
}

func TestMessage(t *testing.T) {
	errGateway := NewError(ErrUpstream, "Payment gateway unavailable")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"sentinel", errGateway, "Payment gateway unavailable"},
		{"wrapped sentinel", fmt.Errorf("post create: %w", errGateway), "Payment gateway unavailable"},
		{"detail wins over its sentinel", fmt.Errorf("tx: %w", Detailf(errGateway, "MoMo error: %s", "bad")), "MoMo error: bad"},
		{"bare kind", fmt.Errorf("user 1: %w", ErrNotFound), ""},
		{"unclassified", errors.New("disk full"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}
