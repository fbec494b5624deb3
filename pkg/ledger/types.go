package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Money is an amount of Vietnamese dong. VND has no minor subdivision, so one unit is one dong.
type Money int64

// String formats the amount as "99000 VND"
func (m Money) String() string {
	return fmt.Sprintf("%d VND", int64(m))
}

// Plan identifies a subscription tier
type Plan string

const (
	PlanFree Plan = "free"
	PlanPlus Plan = "plus"
	PlanPro  Plan = "pro"
)

// PlanCount is the number of plans
const PlanCount = 3

// plansByRank lists plans from cheapest to most expensive
var plansByRank = [...]Plan{PlanFree, PlanPlus, PlanPro}

// Fails to compile when PlanCount and plansByRank disagree.
var _ [PlanCount]Plan = plansByRank

// Plans returns every plan in rank order
func Plans() []Plan {
	plans := plansByRank
	return plans[:]
}

// ParsePlan converts user input such as "PLUS" or " plus" to a Plan
func ParsePlan(s string) (Plan, bool) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Rank orders plans FREE < PLUS < PRO. Unknown plans rank -1.
func (p Plan) Rank() int {
	for i, q := range plansByRank {
		if q == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known plan
func (p Plan) Valid() bool {
	return p.Rank() >= 0
}

// Display returns the plan name as shown to users ("PLUS")
func (p Plan) Display() string {
	switch p {
	case PlanFree:
		return "FREE"
	case PlanPlus:
		return "PLUS"
	case PlanPro:
		return "PRO"
	}
	return string(p)
}

// SubscriptionStatus is the lifecycle state of a subscription row
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// TransactionType classifies a ledger transaction
type TransactionType string

const (
	TransactionTopup    TransactionType = "topup"
	TransactionPurchase TransactionType = "purchase"
	TransactionRefund   TransactionType = "refund"
)

// TransactionStatus is the settlement state of a transaction
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s
func (s TransactionStatus) Terminal() bool {
	return s == TransactionSuccess || s == TransactionFailed
}

// User is an account with a wallet balance
type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name,omitempty"`
	Avatar         string    `json:"avatar,omitempty"`
	HashedPassword string    `json:"-"`
	GoogleID       string    `json:"-"`
	Credits        Money     `json:"credits"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Subscription is one plan period for a user. Purchases create new rows rather than
// updating old ones, so the table doubles as the subscription history.
type Subscription struct {
	ID           int64              `json:"id"`
	UserID       int64              `json:"user_id"`
	Plan         Plan               `json:"plan"`
	Status       SubscriptionStatus `json:"status"`
	MonthlyQuota int                `json:"monthly_quota"`
	UsedQuota    int                `json:"used_quota"`
	ExpiresAt    *time.Time         `json:"expires_at"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Current reports whether the row is in a state that can represent the user's
// current subscription
func (s *Subscription) Current() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionCancelled
}

// ExpiredAt reports whether the subscription has lapsed at t
func (s *Subscription) ExpiredAt(t time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(t)
}

// Remaining returns the unused quota, never negative
func (s *Subscription) Remaining() int {
	if r := s.MonthlyQuota - s.UsedQuota; r > 0 {
		return r
	}
	return 0
}

// Transaction is a movement of money into or out of a user's wallet
type Transaction struct {
	ID                    int64             `json:"id"`
	UserID                int64             `json:"user_id"`
	Amount                Money             `json:"amount"`
	Type                  TransactionType   `json:"type"`
	Status                TransactionStatus `json:"status"`
	ProviderRequestID     string            `json:"provider_request_id,omitempty"`
	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	Description           string            `json:"description,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// UsageLog records one metered API call
type UsageLog struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
