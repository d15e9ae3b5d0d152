package core

import (
	"errors"
	"testing"
)

func TestReconcileAddThenRemove(t *testing.T) {
	u := sampleUser()
	view := AssembleComposite(u, "2024-03", testNow)
	u.Months["2024-03"] = view.Snapshot

	next := view.Snapshot.Clone()
	next.Subscriptions = append(next.Subscriptions, MoneyItem{ID: "x", Name: "Spotify", Amount: dec("9.99")})

	res, err := Reconcile(view.Snapshot, next, u, "2024-03", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalStrings(res.Changes.AddedSubscriptions, []string{"x"}) {
		t.Fatalf("added = %v", res.Changes.AddedSubscriptions)
	}
	last := res.GlobalSubscriptions[len(res.GlobalSubscriptions)-1]
	if last.ID != "x" || last.StartMonthKey != "2024-03" {
		t.Fatalf("expected x promoted from 2024-03, got %+v", last)
	}

	u = res.Apply(u)
	for _, month := range []string{"2024-03", "2024-08"} {
		c := AssembleComposite(u, month, testNow)
		if !containsID(ids(c.Snapshot.Subscriptions), "x") {
			t.Fatalf("%s should include x", month)
		}
	}
	if c := AssembleComposite(u, "2024-02", testNow); containsID(ids(c.Snapshot.Subscriptions), "x") {
		t.Fatalf("2024-02 should not include x")
	}

	// Materialize a later month, then retract x from March.
	u.Months["2024-05"] = AssembleComposite(u, "2024-05", testNow).Snapshot
	prev := res.Composite
	next = prev.Clone()
	next.Subscriptions = []MoneyItem{}
	for _, it := range prev.Subscriptions {
		if it.ID != "x" {
			next.Subscriptions = append(next.Subscriptions, it)
		}
	}

	res, err = Reconcile(prev, next, u, "2024-03", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalStrings(res.Changes.RemovedSubscriptions, []string{"x"}) {
		t.Fatalf("removed = %v", res.Changes.RemovedSubscriptions)
	}
	u = res.Apply(u)
	for _, g := range u.GlobalSubscriptions {
		if g.ID == "x" {
			t.Fatalf("x still global")
		}
	}
	if containsID(ids(u.Months["2024-05"].Subscriptions), "x") {
		t.Fatalf("x should be removed from later stored months")
	}
}

func TestReconcileKeepsEarlierMonths(t *testing.T) {
	u := sampleUser()
	u.Months["2024-01"] = AssembleComposite(u, "2024-01", testNow).Snapshot
	prev := AssembleComposite(u, "2024-03", testNow).Snapshot
	u.Months["2024-03"] = prev

	next := prev.Clone()
	next.Incomes = nil

	res, err := Reconcile(prev, next, u, "2024-03", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !containsID(ids(res.Months["2024-01"].Incomes), "salary") {
		t.Fatalf("earlier month must keep salary")
	}
	if len(res.Months["2024-03"].Incomes) != 0 {
		t.Fatalf("edited month must drop salary")
	}
	if len(res.GlobalIncomes) != 1 || res.GlobalIncomes[0].ID != "bonus" {
		t.Fatalf("unexpected globals %+v", res.GlobalIncomes)
	}
}

func TestReconcilePromotesInstallment(t *testing.T) {
	u := NewUserRecord("anna", "hash", "", testNow)
	prev := AssembleComposite(u, "2024-03", testNow).Snapshot
	next := prev.Clone()
	next.Installments = append(next.Installments, InstallmentItem{
		ID:   "phone",
		Name: "Phone",
		Plan: TotalWithCount{Total: dec("600"), Months: 6},
	})
	next.PeriodExpenses = []MoneyItem{{ID: "pizza", Name: "Pizza", Amount: dec("20")}}

	res, err := Reconcile(prev, next, u, "2024-03", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.GlobalInstallments) != 1 || res.GlobalInstallments[0].StartMonthKey != "2024-03" {
		t.Fatalf("unexpected globals %+v", res.GlobalInstallments)
	}
	got := res.Composite.Installments
	if len(got) != 1 || got[0].MonthsRemaining == nil || *got[0].MonthsRemaining != 6 {
		t.Fatalf("composite should project the new plan, got %+v", got)
	}
	if len(res.Months["2024-03"].PeriodExpenses) != 1 {
		t.Fatalf("period expenses should be stored in the month only")
	}
	if len(res.GlobalIncomes) != 0 || len(res.GlobalSubscriptions) != 0 {
		t.Fatalf("period expenses must not be promoted")
	}
	if len(u.GlobalInstallments) != 0 {
		t.Fatalf("input record was modified")
	}
}

func TestReconcileNoChanges(t *testing.T) {
	u := sampleUser()
	prev := AssembleComposite(u, "2024-03", testNow).Snapshot
	res, err := Reconcile(prev, prev.Clone(), u, "2024-03", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changes.Empty() {
		t.Fatalf("expected no changes, got %+v", res.Changes)
	}
	if len(res.GlobalIncomes) != 2 || len(res.GlobalInstallments) != 2 {
		t.Fatalf("globals should be unchanged")
	}
}

func TestReconcileSkipsExistingGlobal(t *testing.T) {
	u := sampleUser()
	prev := NewMonthlySnapshot("2024-03", testNow)
	next := prev.Clone()
	next.Incomes = []MoneyItem{{ID: "salary", Name: "Salary", Amount: dec("2000")}}

	res, err := Reconcile(prev, next, u, "2024-03", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.GlobalIncomes) != 2 || res.GlobalIncomes[0].StartMonthKey != "2024-01" {
		t.Fatalf("existing global should not be duplicated or moved: %+v", res.GlobalIncomes)
	}
}

func TestReconcilePreconditions(t *testing.T) {
	u := sampleUser()
	good := NewMonthlySnapshot("2024-03", testNow)
	dup := good.Clone()
	dup.Incomes = []MoneyItem{{ID: "a", Name: "A", Amount: dec("1")}, {ID: "a", Name: "A", Amount: dec("1")}}

	cases := []struct {
		name       string
		prev, next MonthlySnapshot
		month      string
		field      string
	}{
		{"bad month key", good, good, "2024-3", "monthKey"},
		{"mismatched snapshot", NewMonthlySnapshot("2024-02", testNow), good, "2024-03", "previous.monthKey"},
		{"duplicate ids", good, dup, "2024-03", "next.incomes"},
	}
	for _, tc := range cases {
		_, err := Reconcile(tc.prev, tc.next, u, tc.month, testNow)
		if !errors.Is(err, ErrPrecondition) {
			t.Fatalf("%s: expected ErrPrecondition, got %v", tc.name, err)
		}
		var pe *PreconditionError
		if !errors.As(err, &pe) || pe.Field != tc.field {
			t.Fatalf("%s: expected field %q, got %v", tc.name, tc.field, err)
		}
	}
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
