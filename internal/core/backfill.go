package core

import "slices"

// BackfillGlobals rebuilds empty global lists for records written before
// globals existed. Each item becomes global from the first month, in key
// order, that contains it. Lists that already have entries are untouched.
func BackfillGlobals(user UserRecord) (UserRecord, bool) {
	if len(user.Months) == 0 {
		return user, false
	}
	needIncomes := len(user.GlobalIncomes) == 0
	needSubs := len(user.GlobalSubscriptions) == 0
	needInst := len(user.GlobalInstallments) == 0
	if !needIncomes && !needSubs && !needInst {
		return user, false
	}

	monthKeys := make([]string, 0, len(user.Months))
	for k := range user.Months {
		monthKeys = append(monthKeys, k)
	}
	slices.Sort(monthKeys)

	out := user
	changed := false
	if needIncomes {
		out.GlobalIncomes = firstSeenMoney(user, monthKeys, func(m MonthlySnapshot) []MoneyItem { return m.Incomes })
		changed = changed || len(out.GlobalIncomes) > 0
	}
	if needSubs {
		out.GlobalSubscriptions = firstSeenMoney(user, monthKeys, func(m MonthlySnapshot) []MoneyItem { return m.Subscriptions })
		changed = changed || len(out.GlobalSubscriptions) > 0
	}
	if needInst {
		seen := map[string]struct{}{}
		plans := []StoredInstallment{}
		for _, k := range monthKeys {
			m := user.Months[k]
			for _, inst := range m.Installments {
				if _, ok := seen[inst.ID]; ok {
					continue
				}
				seen[inst.ID] = struct{}{}
				plans = append(plans, storedFromRuntime(inst, monthKeyOr(m, k)))
			}
		}
		out.GlobalInstallments = plans
		changed = changed || len(plans) > 0
	}
	return out, changed
}

func firstSeenMoney(user UserRecord, monthKeys []string, list func(MonthlySnapshot) []MoneyItem) []StoredMoneyItem {
	seen := map[string]struct{}{}
	out := []StoredMoneyItem{}
	for _, k := range monthKeys {
		m := user.Months[k]
		for _, it := range list(m) {
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, StoredMoneyItem{
				ID:            it.ID,
				Name:          it.Name,
				Amount:        it.Amount,
				Notes:         it.Notes,
				StartMonthKey: monthKeyOr(m, k),
			})
		}
	}
	return out
}

func monthKeyOr(m MonthlySnapshot, key string) string {
	if m.MonthKey != "" {
		return m.MonthKey
	}
	return key
}
