package core

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func ids(items []MoneyItem) []string { return moneyIDs(items) }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sampleUser() UserRecord {
	u := NewUserRecord("anna", "hash", "", testNow)
	u.GlobalIncomes = []StoredMoneyItem{
		{ID: "salary", Name: "Salary", Amount: dec("2000"), StartMonthKey: "2024-01"},
		{ID: "bonus", Name: "Bonus", Amount: dec("300"), StartMonthKey: "2024-06"},
	}
	u.GlobalSubscriptions = []StoredMoneyItem{
		{ID: "netflix", Name: "Netflix", Amount: dec("12.99"), StartMonthKey: "2023-11"},
	}
	u.GlobalInstallments = []StoredInstallment{
		{ID: "tv", Name: "TV", Plan: TotalWithCount{Total: dec("300"), Months: 3}, StartMonthKey: "2024-01"},
		{ID: "gym", Name: "Gym", Plan: FixedMonthly{Monthly: dec("30")}, StartMonthKey: "2024-02"},
	}
	return u
}

func TestComposeMonthRecurring(t *testing.T) {
	u := sampleUser()
	u.Months["2024-03"] = MonthlySnapshot{
		MonthKey: "2024-03",
		Incomes:  []MoneyItem{{ID: "gift", Name: "Gift", Amount: dec("50")}},
	}

	got := ComposeMonthRecurring(u, "2024-03")
	if want := []string{"salary", "gift"}; !equalStrings(ids(got.Incomes), want) {
		t.Fatalf("incomes = %v, want %v", ids(got.Incomes), want)
	}
	if want := []string{"netflix"}; !equalStrings(ids(got.Subscriptions), want) {
		t.Fatalf("subscriptions = %v, want %v", ids(got.Subscriptions), want)
	}
	if len(got.Installments) != 2 {
		t.Fatalf("expected 2 active installments, got %d", len(got.Installments))
	}

	later := ComposeMonthRecurring(u, "2024-06")
	if want := []string{"salary", "bonus"}; !equalStrings(ids(later.Incomes), want) {
		t.Fatalf("incomes = %v, want %v", ids(later.Incomes), want)
	}
	if len(later.Installments) != 1 || later.Installments[0].ID != "gym" {
		t.Fatalf("expected only gym active, got %+v", later.Installments)
	}
}

func TestComposeMonthRecurringBeforeStart(t *testing.T) {
	got := ComposeMonthRecurring(sampleUser(), "2023-10")
	if len(got.Incomes)+len(got.Subscriptions)+len(got.Installments) != 0 {
		t.Fatalf("expected nothing before any start month, got %+v", got)
	}
}

func TestAssembleCompositeNewMonth(t *testing.T) {
	c := AssembleComposite(sampleUser(), "2024-02", testNow)
	if !c.NeedsPersist {
		t.Fatalf("new month should need persisting")
	}
	s := c.Snapshot
	if s.MonthKey != "2024-02" || !s.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected snapshot header %+v", s)
	}
	if !equalStrings(ids(s.Incomes), []string{"salary"}) {
		t.Fatalf("incomes = %v", ids(s.Incomes))
	}
	if len(s.PeriodExpenses) != 0 {
		t.Fatalf("new month should have no period expenses")
	}
	if len(s.Installments) != 2 || *s.Installments[0].MonthsRemaining != 2 {
		t.Fatalf("unexpected installments %+v", s.Installments)
	}
}

func TestAssembleCompositeExistingMonth(t *testing.T) {
	u := sampleUser()
	u.Months["2024-03"] = MonthlySnapshot{
		MonthKey:       "2024-03",
		Incomes:        []MoneyItem{{ID: "salary", Name: "Old salary", Amount: dec("1500")}, {ID: "gift", Name: "Gift", Amount: dec("50")}},
		Subscriptions:  []MoneyItem{{ID: "netflix", Name: "Netflix", Amount: dec("12.99")}},
		Installments:   []InstallmentItem{{ID: "tv", Name: "TV", Plan: TotalWithCount{Total: dec("300"), Months: 3}, MonthsRemaining: intPtr(3)}, {ID: "gym", Name: "Gym", Plan: FixedMonthly{Monthly: dec("30")}}},
		PeriodExpenses: []MoneyItem{{ID: "dinner", Name: "Dinner", Amount: dec("40")}},
		CreatedAt:      testNow.Add(-time.Hour),
		UpdatedAt:      testNow.Add(-time.Hour),
	}

	c := AssembleComposite(u, "2024-03", testNow)
	if c.NeedsPersist {
		t.Fatalf("unchanged ID sets should not need persisting")
	}
	s := c.Snapshot
	if !equalStrings(ids(s.Incomes), []string{"salary", "gift"}) {
		t.Fatalf("incomes = %v", ids(s.Incomes))
	}
	if !s.Incomes[0].Amount.Equal(dec("2000")) {
		t.Fatalf("global item should win on collision, got %s", s.Incomes[0].Amount)
	}
	if *s.Installments[0].MonthsRemaining != 1 {
		t.Fatalf("installment should be projected, got %d", *s.Installments[0].MonthsRemaining)
	}
	if len(s.PeriodExpenses) != 1 || !s.UpdatedAt.Equal(testNow.Add(-time.Hour)) {
		t.Fatalf("period expenses and timestamps should be kept: %+v", s)
	}
	if u.Months["2024-03"].Incomes[0].Name != "Old salary" {
		t.Fatalf("input record was modified")
	}
}

func TestAssembleCompositeGlobalsChanged(t *testing.T) {
	u := sampleUser()
	u.Months["2024-03"] = MonthlySnapshot{
		MonthKey:  "2024-03",
		Incomes:   []MoneyItem{{ID: "salary", Name: "Salary", Amount: dec("2000")}},
		CreatedAt: testNow.Add(-time.Hour),
	}

	c := AssembleComposite(u, "2024-03", testNow)
	if !c.NeedsPersist {
		t.Fatalf("new global items should need persisting")
	}
	if !c.Snapshot.UpdatedAt.Equal(testNow) {
		t.Fatalf("updatedAt should be refreshed")
	}
	if !equalStrings(ids(c.Snapshot.Subscriptions), []string{"netflix"}) {
		t.Fatalf("subscriptions = %v", ids(c.Snapshot.Subscriptions))
	}
}
