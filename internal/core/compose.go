package core

import "time"

// MonthRecurring is the recurring data effective in one month.
type MonthRecurring struct {
	// Incomes and Subscriptions hold the started globals followed by the
	// month's own items; IDs may repeat.
	Incomes       []MoneyItem
	Subscriptions []MoneyItem
	// Installments are the active global plans, not yet projected.
	Installments []StoredInstallment
}

// ComposeMonthRecurring collects the globals that apply to monthKey. A
// missing user month simply contributes no local items.
func ComposeMonthRecurring(user UserRecord, monthKey string) MonthRecurring {
	base, hasBase := user.Months[monthKey]

	out := MonthRecurring{
		Incomes:       startedItems(user.GlobalIncomes, monthKey),
		Subscriptions: startedItems(user.GlobalSubscriptions, monthKey),
		Installments:  []StoredInstallment{},
	}
	if hasBase {
		out.Incomes = append(out.Incomes, base.Incomes...)
		out.Subscriptions = append(out.Subscriptions, base.Subscriptions...)
	}
	for _, inst := range user.GlobalInstallments {
		if installmentIsActive(inst, monthKey) {
			out.Installments = append(out.Installments, inst)
		}
	}
	return out
}

func startedItems(globals []StoredMoneyItem, monthKey string) []MoneyItem {
	out := make([]MoneyItem, 0, len(globals))
	for _, g := range globals {
		if MonthDiff(g.StartMonthKey, monthKey) >= 0 {
			out = append(out, g.Item())
		}
	}
	return out
}

// ProjectInstallments derives the runtime view of each plan for monthKey.
func ProjectInstallments(plans []StoredInstallment, monthKey string) []InstallmentItem {
	out := make([]InstallmentItem, 0, len(plans))
	for _, p := range plans {
		out = append(out, DeriveInstallmentRuntime(p, monthKey))
	}
	return out
}

// Composite is the assembled view of a month.
type Composite struct {
	Snapshot MonthlySnapshot
	// NeedsPersist is set when Snapshot should be stored as the month's
	// record: the month had no snapshot yet, or globals changed its ID sets.
	NeedsPersist bool
}

// AssembleComposite builds the view of monthKey shown to the user. Global
// items win on ID collisions; local-only items keep their place after them.
func AssembleComposite(user UserRecord, monthKey string, now time.Time) Composite {
	globals := ComposeMonthRecurring(withoutMonth(user, monthKey), monthKey)
	runtime := ProjectInstallments(globals.Installments, monthKey)

	existing, ok := user.Months[monthKey]
	if !ok {
		snap := NewMonthlySnapshot(monthKey, now)
		snap.Incomes = cloneItems(globals.Incomes)
		snap.Subscriptions = cloneItems(globals.Subscriptions)
		snap.Installments = cloneInstallments(runtime)
		return Composite{Snapshot: snap, NeedsPersist: true}
	}

	incomes := mergeByID(globals.Incomes, existing.Incomes)
	subs := mergeByID(globals.Subscriptions, existing.Subscriptions)
	installments := mergeInstallments(runtime, existing.Installments)

	needsPersist := !sameIDs(moneyIDs(incomes), moneyIDs(existing.Incomes)) ||
		!sameIDs(moneyIDs(subs), moneyIDs(existing.Subscriptions)) ||
		!sameIDs(installmentIDs(installments), installmentIDs(existing.Installments))

	snap := existing.Clone()
	snap.Incomes = incomes
	snap.Subscriptions = subs
	snap.Installments = installments
	if needsPersist {
		snap.UpdatedAt = now
	}
	return Composite{Snapshot: snap, NeedsPersist: needsPersist}
}

// withoutMonth hides monthKey's local items so composition yields globals only.
func withoutMonth(user UserRecord, monthKey string) UserRecord {
	if _, ok := user.Months[monthKey]; !ok {
		return user
	}
	u := user
	u.Months = nil
	return u
}

func mergeByID(first, second []MoneyItem) []MoneyItem {
	seen := make(map[string]struct{}, len(first)+len(second))
	out := make([]MoneyItem, 0, len(first)+len(second))
	for _, list := range [][]MoneyItem{first, second} {
		for _, it := range list {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

func mergeInstallments(runtime, local []InstallmentItem) []InstallmentItem {
	out := cloneInstallments(runtime)
	seen := make(map[string]struct{}, len(runtime))
	for _, it := range runtime {
		seen[it.ID] = struct{}{}
	}
	for _, it := range cloneInstallments(local) {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

func moneyIDs(items []MoneyItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func installmentIDs(items []InstallmentItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// sameIDs compares lengths and membership, not order or values.
func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
