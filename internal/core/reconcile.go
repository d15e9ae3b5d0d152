package core

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrPrecondition marks calls whose inputs were not validated upstream.
var ErrPrecondition = errors.New("precondition violated")

// PreconditionError names the input that broke a precondition.
type PreconditionError struct {
	Field  string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrPrecondition, e.Field, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// Reconciliation is the outcome of applying one month edit.
type Reconciliation struct {
	GlobalIncomes       []StoredMoneyItem
	GlobalSubscriptions []StoredMoneyItem
	GlobalInstallments  []StoredInstallment
	Months              map[string]MonthlySnapshot
	// Composite is the fresh view of the edited month and the baseline for
	// the next edit.
	Composite MonthlySnapshot
	Changes   ChangeSet
}

// ChangeSet lists the IDs promoted to or retracted from the global lists.
type ChangeSet struct {
	AddedIncomes         []string `json:"addedIncomes,omitempty"`
	RemovedIncomes       []string `json:"removedIncomes,omitempty"`
	AddedSubscriptions   []string `json:"addedSubscriptions,omitempty"`
	RemovedSubscriptions []string `json:"removedSubscriptions,omitempty"`
	AddedInstallments    []string `json:"addedInstallments,omitempty"`
	RemovedInstallments  []string `json:"removedInstallments,omitempty"`
}

// Empty reports whether no global list changed.
func (c ChangeSet) Empty() bool {
	added, removed := c.Counts()
	return added+removed == 0
}

// Counts returns how many IDs were promoted and retracted across all lists.
func (c ChangeSet) Counts() (added, removed int) {
	added = len(c.AddedIncomes) + len(c.AddedSubscriptions) + len(c.AddedInstallments)
	removed = len(c.RemovedIncomes) + len(c.RemovedSubscriptions) + len(c.RemovedInstallments)
	return added, removed
}

// Apply returns a copy of user carrying the reconciled lists and months.
func (r Reconciliation) Apply(user UserRecord) UserRecord {
	out := user
	out.GlobalIncomes = r.GlobalIncomes
	out.GlobalSubscriptions = r.GlobalSubscriptions
	out.GlobalInstallments = r.GlobalInstallments
	out.Months = r.Months
	return out
}

// Reconcile turns an edit of monthKey's composite into global changes.
// Items new in next are promoted to globals starting at monthKey; items
// dropped from prev are removed from the globals and from monthKey and every
// later stored month. The edited month is replaced by next. user is not
// modified.
func Reconcile(prev, next MonthlySnapshot, user UserRecord, monthKey string, now time.Time) (Reconciliation, error) {
	if err := checkPreconditions(prev, next, monthKey); err != nil {
		return Reconciliation{}, err
	}

	var res Reconciliation

	addedIncomes, removedIncomes := diffMoney(prev.Incomes, next.Incomes)
	res.GlobalIncomes = applyMoneyDiff(user.GlobalIncomes, addedIncomes, removedIncomes, monthKey)

	addedSubs, removedSubs := diffMoney(prev.Subscriptions, next.Subscriptions)
	res.GlobalSubscriptions = applyMoneyDiff(user.GlobalSubscriptions, addedSubs, removedSubs, monthKey)

	addedInst, removedInst := diffInstallments(prev.Installments, next.Installments)
	res.GlobalInstallments = applyInstallmentDiff(user.GlobalInstallments, addedInst, removedInst, monthKey)

	res.Changes = ChangeSet{
		AddedIncomes:         moneyIDs(addedIncomes),
		RemovedIncomes:       keys(removedIncomes),
		AddedSubscriptions:   moneyIDs(addedSubs),
		RemovedSubscriptions: keys(removedSubs),
		AddedInstallments:    installmentIDs(addedInst),
		RemovedInstallments:  keys(removedInst),
	}

	res.Months = make(map[string]MonthlySnapshot, len(user.Months)+1)
	for key, m := range user.Months {
		// Keys share one fixed-width format, so string order is month order.
		if key >= monthKey {
			m = m.Clone()
			m.Incomes = dropMoney(m.Incomes, removedIncomes)
			m.Subscriptions = dropMoney(m.Subscriptions, removedSubs)
			m.Installments = dropInstallments(m.Installments, removedInst)
		}
		res.Months[key] = m
	}

	edited, ok := user.Months[monthKey]
	if !ok {
		edited = NewMonthlySnapshot(monthKey, now)
	}
	edited.MonthKey = monthKey
	edited.Incomes = cloneItems(next.Incomes)
	edited.Subscriptions = cloneItems(next.Subscriptions)
	edited.Installments = cloneInstallments(next.Installments)
	edited.PeriodExpenses = cloneItems(next.PeriodExpenses)
	edited.UpdatedAt = now
	res.Months[monthKey] = edited

	composite := edited.Clone()
	active := make([]StoredInstallment, 0, len(res.GlobalInstallments))
	for _, g := range res.GlobalInstallments {
		if installmentIsActive(g, monthKey) {
			active = append(active, g)
		}
	}
	composite.Installments = mergeInstallments(ProjectInstallments(active, monthKey), edited.Installments)
	res.Composite = composite

	return res, nil
}

func checkPreconditions(prev, next MonthlySnapshot, monthKey string) error {
	if err := ValidateMonthKey(monthKey); err != nil {
		return &PreconditionError{Field: "monthKey", Reason: err.Error()}
	}
	for name, snap := range map[string]MonthlySnapshot{"previous": prev, "next": next} {
		if snap.MonthKey != "" && snap.MonthKey != monthKey {
			return &PreconditionError{
				Field:  name + ".monthKey",
				Reason: fmt.Sprintf("snapshot for %s submitted as an edit of %s", snap.MonthKey, monthKey),
			}
		}
	}
	lists := map[string][]string{
		"next.incomes":        moneyIDs(next.Incomes),
		"next.subscriptions":  moneyIDs(next.Subscriptions),
		"next.periodExpenses": moneyIDs(next.PeriodExpenses),
		"next.installments":   installmentIDs(next.Installments),
	}
	for field, ids := range lists {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				return &PreconditionError{Field: field, Reason: "duplicate id " + id}
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func keys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}

// diffMoney returns the items of next missing from prev and the IDs of
// prev missing from next.
func diffMoney(prev, next []MoneyItem) ([]MoneyItem, map[string]struct{}) {
	prevIDs := idSet(moneyIDs(prev))
	nextIDs := idSet(moneyIDs(next))
	var added []MoneyItem
	for _, it := range next {
		if _, ok := prevIDs[it.ID]; !ok {
			added = append(added, it)
		}
	}
	removed := map[string]struct{}{}
	for id := range prevIDs {
		if _, ok := nextIDs[id]; !ok {
			removed[id] = struct{}{}
		}
	}
	return added, removed
}

func diffInstallments(prev, next []InstallmentItem) ([]InstallmentItem, map[string]struct{}) {
	prevIDs := idSet(installmentIDs(prev))
	nextIDs := idSet(installmentIDs(next))
	var added []InstallmentItem
	for _, it := range next {
		if _, ok := prevIDs[it.ID]; !ok {
			added = append(added, it)
		}
	}
	removed := map[string]struct{}{}
	for id := range prevIDs {
		if _, ok := nextIDs[id]; !ok {
			removed[id] = struct{}{}
		}
	}
	return added, removed
}

func applyMoneyDiff(globals []StoredMoneyItem, added []MoneyItem, removed map[string]struct{}, monthKey string) []StoredMoneyItem {
	out := make([]StoredMoneyItem, 0, len(globals)+len(added))
	present := make(map[string]struct{}, len(globals)+len(added))
	for _, g := range globals {
		out = append(out, g)
		present[g.ID] = struct{}{}
	}
	for _, it := range added {
		if _, dup := present[it.ID]; dup {
			continue
		}
		present[it.ID] = struct{}{}
		out = append(out, StoredMoneyItem{
			ID:            it.ID,
			Name:          it.Name,
			Amount:        it.Amount,
			Notes:         it.Notes,
			StartMonthKey: monthKey,
		})
	}
	kept := out[:0]
	for _, g := range out {
		if _, gone := removed[g.ID]; !gone {
			kept = append(kept, g)
		}
	}
	return kept
}

func applyInstallmentDiff(globals []StoredInstallment, added []InstallmentItem, removed map[string]struct{}, monthKey string) []StoredInstallment {
	out := make([]StoredInstallment, 0, len(globals)+len(added))
	present := make(map[string]struct{}, len(globals)+len(added))
	for _, g := range globals {
		out = append(out, g)
		present[g.ID] = struct{}{}
	}
	for _, it := range added {
		if _, dup := present[it.ID]; dup {
			continue
		}
		present[it.ID] = struct{}{}
		out = append(out, storedFromRuntime(it, monthKey))
	}
	kept := out[:0]
	for _, g := range out {
		if _, gone := removed[g.ID]; !gone {
			kept = append(kept, g)
		}
	}
	return kept
}

func dropMoney(items []MoneyItem, removed map[string]struct{}) []MoneyItem {
	if len(removed) == 0 {
		return items
	}
	out := make([]MoneyItem, 0, len(items))
	for _, it := range items {
		if _, gone := removed[it.ID]; !gone {
			out = append(out, it)
		}
	}
	return out
}

func dropInstallments(items []InstallmentItem, removed map[string]struct{}) []InstallmentItem {
	if len(removed) == 0 {
		return items
	}
	out := make([]InstallmentItem, 0, len(items))
	for _, it := range items {
		if _, gone := removed[it.ID]; !gone {
			out = append(out, it)
		}
	}
	return out
}
