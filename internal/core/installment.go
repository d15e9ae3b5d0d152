package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Installment entry modes accepted by NewInstallmentPlan.
const (
	ModeTotal   = "total"
	ModeMonthly = "monthly"
)

// InstallmentPlan is how an installment was entered. Its only
// implementations are FixedMonthly and TotalWithCount.
type InstallmentPlan interface {
	// PlannedMonths is the number of installments, 0 when open-ended or unknown.
	PlannedMonths() int
	// TotalAmount is the canonical total, zero when unknown.
	TotalAmount() decimal.Decimal
	Validate() error
	isInstallmentPlan()
}

// FixedMonthly is a plan entered by its monthly payment. Total is a
// recorded total kept as entered; zero means it is derived from Months.
type FixedMonthly struct {
	Monthly decimal.Decimal
	Months  int
	Total   decimal.Decimal
}

// TotalWithCount is a plan entered by its total, spread over Months.
type TotalWithCount struct {
	Total  decimal.Decimal
	Months int
}

func (p FixedMonthly) PlannedMonths() int { return max(p.Months, 0) }

func (p FixedMonthly) TotalAmount() decimal.Decimal {
	if !p.Total.IsZero() {
		return p.Total
	}
	if p.Months <= 0 {
		return decimal.Zero
	}
	return p.Monthly.Mul(decimal.NewFromInt(int64(p.Months)))
}

func (p FixedMonthly) Validate() error {
	if !p.Monthly.IsPositive() || p.Total.IsNegative() {
		return ErrInvalidAmount
	}
	if p.Months < 0 {
		return ErrInvalidCount
	}
	return nil
}

func (FixedMonthly) isInstallmentPlan() {}

func (p TotalWithCount) PlannedMonths() int { return max(p.Months, 0) }

func (p TotalWithCount) TotalAmount() decimal.Decimal { return p.Total }

func (p TotalWithCount) Validate() error {
	if p.Total.IsNegative() {
		return ErrInvalidAmount
	}
	if p.Months < 0 {
		return ErrInvalidCount
	}
	return nil
}

func (TotalWithCount) isInstallmentPlan() {}

// NewInstallmentPlan builds a plan from an entry form: mode is "total" or
// "monthly", amount must be positive and count a positive integer.
func NewInstallmentPlan(mode string, amount decimal.Decimal, count int) (InstallmentPlan, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	switch mode {
	case ModeTotal:
		return TotalWithCount{Total: amount, Months: count}, nil
	case ModeMonthly:
		return FixedMonthly{Monthly: amount, Months: count}, nil
	default:
		return nil, ErrInvalidMode
	}
}

type (
	// InstallmentItem is the month-scoped view of an installment.
	// MonthsRemaining is derived for global plans; nil means unknown.
	InstallmentItem struct {
		ID              string
		Name            string
		Plan            InstallmentPlan
		MonthsRemaining *int
		Notes           string
	}

	// StoredInstallment is a global installment plan. The remaining count
	// is always recomputed from StartMonthKey.
	StoredInstallment struct {
		ID            string
		Name          string
		Plan          InstallmentPlan
		StartMonthKey string
		Notes         string
	}
)

// installmentJSON is the persisted shape shared by both installment types.
type installmentJSON struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	TotalAmount     *decimal.Decimal `json:"totalAmount,omitempty"`
	MonthsPlanned   *int             `json:"monthsPlanned,omitempty"`
	MonthsRemaining *int             `json:"monthsRemaining,omitempty"`
	MonthlyAmount   *decimal.Decimal `json:"monthlyAmount,omitempty"`
	StartMonthKey   string           `json:"startMonthKey,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

func encodePlan(p InstallmentPlan, w *installmentJSON) {
	if p == nil {
		return
	}
	if n := p.PlannedMonths(); n > 0 {
		w.MonthsPlanned = &n
	}
	if total := p.TotalAmount(); !total.IsZero() {
		w.TotalAmount = &total
	}
	if fm, ok := p.(FixedMonthly); ok {
		monthly := fm.Monthly
		w.MonthlyAmount = &monthly
	}
}

// decodePlan reads a positive monthly amount as authoritative, otherwise
// falls back to the total. A stored total is always kept verbatim.
func decodePlan(w installmentJSON) InstallmentPlan {
	months := 0
	if w.MonthsPlanned != nil && *w.MonthsPlanned > 0 {
		months = *w.MonthsPlanned
	}
	total := decimal.Zero
	if w.TotalAmount != nil {
		total = *w.TotalAmount
	}
	if w.MonthlyAmount != nil && w.MonthlyAmount.IsPositive() {
		return FixedMonthly{Monthly: *w.MonthlyAmount, Months: months, Total: total}
	}
	return TotalWithCount{Total: total, Months: months}
}

func (i InstallmentItem) MarshalJSON() ([]byte, error) {
	w := installmentJSON{ID: i.ID, Name: i.Name, MonthsRemaining: i.MonthsRemaining, Notes: i.Notes}
	encodePlan(i.Plan, &w)
	return json.Marshal(w)
}

func (i *InstallmentItem) UnmarshalJSON(data []byte) error {
	var w installmentJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*i = InstallmentItem{
		ID:              w.ID,
		Name:            w.Name,
		Plan:            decodePlan(w),
		MonthsRemaining: w.MonthsRemaining,
		Notes:           w.Notes,
	}
	return nil
}

func (s StoredInstallment) MarshalJSON() ([]byte, error) {
	w := installmentJSON{ID: s.ID, Name: s.Name, StartMonthKey: s.StartMonthKey, Notes: s.Notes}
	encodePlan(s.Plan, &w)
	return json.Marshal(w)
}

func (s *StoredInstallment) UnmarshalJSON(data []byte) error {
	var w installmentJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = StoredInstallment{
		ID:            w.ID,
		Name:          w.Name,
		Plan:          decodePlan(w),
		StartMonthKey: w.StartMonthKey,
		Notes:         w.Notes,
	}
	return nil
}

// MonthlyInstallmentAmount resolves the payment due in a month: an explicit
// monthly figure first, then the total over the remaining months, then the
// total over the planned months, then the total itself (zero if unknown).
func MonthlyInstallmentAmount(item InstallmentItem) decimal.Decimal {
	if item.Plan == nil {
		return decimal.Zero
	}
	if fm, ok := item.Plan.(FixedMonthly); ok && fm.Monthly.IsPositive() {
		return fm.Monthly
	}
	total := item.Plan.TotalAmount()
	if total.IsZero() {
		return decimal.Zero
	}
	if item.MonthsRemaining != nil && *item.MonthsRemaining > 0 {
		return total.Div(decimal.NewFromInt(int64(*item.MonthsRemaining)))
	}
	if n := item.Plan.PlannedMonths(); n > 0 {
		return total.Div(decimal.NewFromInt(int64(n)))
	}
	return total
}

// DeriveInstallmentRuntime projects a stored plan onto monthKey. It does not
// hide plans that start after monthKey; ComposeMonthRecurring does that.
func DeriveInstallmentRuntime(stored StoredInstallment, monthKey string) InstallmentItem {
	item := InstallmentItem{
		ID:    stored.ID,
		Name:  stored.Name,
		Plan:  stored.Plan,
		Notes: stored.Notes,
	}
	if stored.Plan != nil {
		if planned := stored.Plan.PlannedMonths(); planned > 0 {
			remaining := max(planned-MonthDiff(stored.StartMonthKey, monthKey), 0)
			item.MonthsRemaining = &remaining
		}
	}
	return item
}

// installmentIsActive reports whether a plan runs in monthKey: it has
// started and, when it has a length, has not yet finished.
func installmentIsActive(stored StoredInstallment, monthKey string) bool {
	elapsed := MonthDiff(stored.StartMonthKey, monthKey)
	if elapsed < 0 {
		return false
	}
	if stored.Plan != nil {
		if planned := stored.Plan.PlannedMonths(); planned > 0 {
			return elapsed < planned
		}
	}
	return true
}

// storedFromRuntime promotes an edited installment to a global plan. A
// missing planned count falls back to the remaining count.
func storedFromRuntime(item InstallmentItem, startMonthKey string) StoredInstallment {
	plan := item.Plan
	if plan == nil {
		plan = TotalWithCount{Total: decimal.Zero}
	}
	if plan.PlannedMonths() == 0 && item.MonthsRemaining != nil && *item.MonthsRemaining > 0 {
		switch p := plan.(type) {
		case FixedMonthly:
			p.Months = *item.MonthsRemaining
			plan = p
		case TotalWithCount:
			p.Months = *item.MonthsRemaining
			plan = p
		}
	}
	return StoredInstallment{
		ID:            item.ID,
		Name:          item.Name,
		Plan:          plan,
		StartMonthKey: startMonthKey,
		Notes:         item.Notes,
	}
}
