package transaction

// Aggregates are the derived income/expense/balance numbers. The same sign
// rule backs every computation path: income and borrowed amounts accumulate
// into Income, expense and lent amounts into Expense, and
// Balance = Income - Expense. The server-side aggregation queries implement
// the identical rule so that the online and offline paths agree.
type Aggregates struct {
	Income  int64 `json:"income"`
	Expense int64 `json:"expense"`
	Balance int64 `json:"balance"`
}

// Apply adds one transaction's contribution.
func (a *Aggregates) Apply(typ Type, amount int64) {
	if typ.Credits() {
		a.Income += amount
		a.Balance += amount
	} else {
		a.Expense += amount
		a.Balance -= amount
	}
}

// Reverse removes one transaction's contribution.
func (a *Aggregates) Reverse(typ Type, amount int64) {
	if typ.Credits() {
		a.Income -= amount
		a.Balance -= amount
	} else {
		a.Expense -= amount
		a.Balance += amount
	}
}

// Summarize computes aggregates over a transaction list.
func Summarize(list []Transaction) Aggregates {
	var a Aggregates
	for _, t := range list {
		a.Apply(t.Type, t.Amount)
	}
	return a
}
