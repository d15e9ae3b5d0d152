package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, matching records written by older clients.
	decimal.MarshalJSONWithoutQuotes = true
}

type (
	// MoneyItem is a month-scoped entry: a period expense, or the effective
	// shape of an income or subscription inside a composite snapshot.
	MoneyItem struct {
		ID     string          `json:"id"`
		Name   string          `json:"name"`
		Amount decimal.Decimal `json:"amount"`
		Notes  string          `json:"notes,omitempty"`
	}

	// StoredMoneyItem is a global recurring income or subscription.
	StoredMoneyItem struct {
		ID            string          `json:"id"`
		Name          string          `json:"name"`
		Amount        decimal.Decimal `json:"amount"`
		Notes         string          `json:"notes,omitempty"`
		StartMonthKey string          `json:"startMonthKey"`
	}

	// MonthlySnapshot is one user's stored view of one month.
	MonthlySnapshot struct {
		MonthKey       string            `json:"monthKey"`
		Incomes        []MoneyItem       `json:"incomes"`
		Subscriptions  []MoneyItem       `json:"subscriptions"`
		Installments   []InstallmentItem `json:"installments"`
		PeriodExpenses []MoneyItem       `json:"periodExpenses"`
		CreatedAt      time.Time         `json:"createdAt"`
		UpdatedAt      time.Time         `json:"updatedAt"`
	}

	// UserRecord is the aggregate root; every mutation goes through it.
	UserRecord struct {
		Username            string                     `json:"username"`
		PasswordHash        string                     `json:"passwordHash"`
		Salt                string                     `json:"salt"`
		CreatedAt           time.Time                  `json:"createdAt"`
		GlobalIncomes       []StoredMoneyItem          `json:"globalIncomes"`
		GlobalSubscriptions []StoredMoneyItem          `json:"globalSubscriptions"`
		GlobalInstallments  []StoredInstallment        `json:"globalInstallments"`
		Months              map[string]MonthlySnapshot `json:"months"`
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyName       = errors.New("empty name")
	ErrEmptyID         = errors.New("empty id")
	ErrNameTooLong     = errors.New("name too long (max 200 characters)")
	ErrInvalidCount    = errors.New("installment count must be a positive integer")
	ErrInvalidMode     = errors.New("invalid installment mode")
	ErrDuplicateID     = errors.New("duplicate id")
	ErrInvalidMonthKey = errors.New("invalid month key")
)

const maxNameLength = 200

// NewMonthlySnapshot returns an empty snapshot for monthKey.
func NewMonthlySnapshot(monthKey string, now time.Time) MonthlySnapshot {
	return MonthlySnapshot{
		MonthKey:       monthKey,
		Incomes:        []MoneyItem{},
		Subscriptions:  []MoneyItem{},
		Installments:   []InstallmentItem{},
		PeriodExpenses: []MoneyItem{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewUserRecord returns an empty record for an already normalized username.
func NewUserRecord(username, passwordHash, salt string, now time.Time) UserRecord {
	return UserRecord{
		Username:            username,
		PasswordHash:        passwordHash,
		Salt:                salt,
		CreatedAt:           now,
		GlobalIncomes:       []StoredMoneyItem{},
		GlobalSubscriptions: []StoredMoneyItem{},
		GlobalInstallments:  []StoredInstallment{},
		Months:              map[string]MonthlySnapshot{},
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

func (m MoneyItem) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrEmptyID
	}
	if err := validateName(m.Name); err != nil {
		return err
	}
	if !m.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (m StoredMoneyItem) Validate() error {
	if err := m.Item().Validate(); err != nil {
		return err
	}
	return ValidateMonthKey(m.StartMonthKey)
}

// Item drops the start month.
func (m StoredMoneyItem) Item() MoneyItem {
	return MoneyItem{ID: m.ID, Name: m.Name, Amount: m.Amount, Notes: m.Notes}
}

func (i InstallmentItem) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrEmptyID
	}
	if err := validateName(i.Name); err != nil {
		return err
	}
	if i.MonthsRemaining != nil && *i.MonthsRemaining < 0 {
		return ErrInvalidCount
	}
	if i.Plan == nil {
		return ErrInvalidMode
	}
	return i.Plan.Validate()
}

// Validate checks a submitted snapshot: a strict month key and
// well-formed, unique items in every list.
func (s MonthlySnapshot) Validate() error {
	if err := ValidateMonthKey(s.MonthKey); err != nil {
		return err
	}
	lists := map[string][]MoneyItem{
		"incomes":        s.Incomes,
		"subscriptions":  s.Subscriptions,
		"periodExpenses": s.PeriodExpenses,
	}
	for list, items := range lists {
		seen := make(map[string]struct{}, len(items))
		for _, it := range items {
			if err := it.Validate(); err != nil {
				return &ItemError{List: list, ID: it.ID, Err: err}
			}
			if _, dup := seen[it.ID]; dup {
				return &ItemError{List: list, ID: it.ID, Err: ErrDuplicateID}
			}
			seen[it.ID] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(s.Installments))
	for _, it := range s.Installments {
		if err := it.Validate(); err != nil {
			return &ItemError{List: "installments", ID: it.ID, Err: err}
		}
		if _, dup := seen[it.ID]; dup {
			return &ItemError{List: "installments", ID: it.ID, Err: ErrDuplicateID}
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}

// ItemError locates a validation failure inside a snapshot.
type ItemError struct {
	List string
	ID   string
	Err  error
}

func (e *ItemError) Error() string {
	return e.List + "[" + e.ID + "]: " + e.Err.Error()
}

func (e *ItemError) Unwrap() error { return e.Err }

// Clone returns a deep copy of the snapshot.
func (s MonthlySnapshot) Clone() MonthlySnapshot {
	out := s
	out.Incomes = cloneItems(s.Incomes)
	out.Subscriptions = cloneItems(s.Subscriptions)
	out.PeriodExpenses = cloneItems(s.PeriodExpenses)
	out.Installments = cloneInstallments(s.Installments)
	return out
}

// Clone returns a deep copy of the record.
func (u UserRecord) Clone() UserRecord {
	out := u
	out.GlobalIncomes = append([]StoredMoneyItem{}, u.GlobalIncomes...)
	out.GlobalSubscriptions = append([]StoredMoneyItem{}, u.GlobalSubscriptions...)
	out.GlobalInstallments = append([]StoredInstallment{}, u.GlobalInstallments...)
	out.Months = make(map[string]MonthlySnapshot, len(u.Months))
	for k, m := range u.Months {
		out.Months[k] = m.Clone()
	}
	return out
}

// Normalize fills nil lists so records decoded from older files behave
// like freshly created ones.
func (u *UserRecord) Normalize() {
	if u.GlobalIncomes == nil {
		u.GlobalIncomes = []StoredMoneyItem{}
	}
	if u.GlobalSubscriptions == nil {
		u.GlobalSubscriptions = []StoredMoneyItem{}
	}
	if u.GlobalInstallments == nil {
		u.GlobalInstallments = []StoredInstallment{}
	}
	if u.Months == nil {
		u.Months = map[string]MonthlySnapshot{}
	}
	for k, m := range u.Months {
		m.Normalize()
		if m.MonthKey == "" {
			m.MonthKey = k
		}
		u.Months[k] = m
	}
}

// Normalize fills nil lists.
func (s *MonthlySnapshot) Normalize() {
	if s.Incomes == nil {
		s.Incomes = []MoneyItem{}
	}
	if s.Subscriptions == nil {
		s.Subscriptions = []MoneyItem{}
	}
	if s.Installments == nil {
		s.Installments = []InstallmentItem{}
	}
	if s.PeriodExpenses == nil {
		s.PeriodExpenses = []MoneyItem{}
	}
}

func cloneItems(in []MoneyItem) []MoneyItem {
	if in == nil {
		return []MoneyItem{}
	}
	return append(make([]MoneyItem, 0, len(in)), in...)
}

func cloneInstallments(in []InstallmentItem) []InstallmentItem {
	out := make([]InstallmentItem, 0, len(in))
	for _, it := range in {
		if it.MonthsRemaining != nil {
			r := *it.MonthsRemaining
			it.MonthsRemaining = &r
		}
		out = append(out, it)
	}
	return out
}
