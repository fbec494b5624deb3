package subscription

import (
	"fmt"

	"github.com/platinummonkey/quotagate/pkg/ledger"
)

// QuotaExceededReason is reported when a subscription has no calls left
const QuotaExceededReason = "Quota exceeded"

// PlanSpec is the quota and price of one plan
type PlanSpec struct {
	Plan  ledger.Plan  `json:"plan"`
	Quota int          `json:"monthly_quota"`
	Price ledger.Money `json:"price"`
}

// Catalogue holds one PlanSpec per plan, indexed by Plan.Rank
type Catalogue [ledger.PlanCount]PlanSpec

// NewCatalogue builds a catalogue from one spec per plan. Every plan must be
// present exactly once.
func NewCatalogue(specs ...PlanSpec) (Catalogue, error) {
	var (
		c    Catalogue
		seen [ledger.PlanCount]bool
	)
	for _, spec := range specs {
		rank := spec.Plan.Rank()
		if rank < 0 {
			return c, fmt.Errorf("unknown plan %q", spec.Plan)
		}
		if seen[rank] {
			return c, fmt.Errorf("plan %q listed twice", spec.Plan)
		}
		if spec.Quota < 0 || spec.Price < 0 {
			return c, fmt.Errorf("plan %q: quota and price must not be negative", spec.Plan)
		}
		seen[rank] = true
		c[rank] = spec
	}
	for rank, ok := range seen {
		if !ok {
			return c, fmt.Errorf("plan %q missing from catalogue", ledger.Plans()[rank])
		}
	}
	return c, nil
}

// Spec returns the spec for plan
func (c Catalogue) Spec(plan ledger.Plan) (PlanSpec, bool) {
	rank := plan.Rank()
	if rank < 0 {
		return PlanSpec{}, false
	}
	return c[rank], true
}

// List returns the catalogue in rank order
func (c Catalogue) List() []PlanSpec {
	specs := make([]PlanSpec, len(c))
	copy(specs, c[:])
	return specs
}

// QuotaStatus is the result of a quota check
type QuotaStatus struct {
	Allowed        bool        `json:"allowed"`
	Remaining      int         `json:"remaining"`
	SubscriptionID int64       `json:"subscription_id"`
	Plan           ledger.Plan `json:"plan"`
	Reason         string      `json:"reason,omitempty"`
}
