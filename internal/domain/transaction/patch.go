package transaction

import (
	"strings"
	"time"
)

// Patch carries a partial set of transaction fields. Nil fields are left
// untouched when the patch is applied.
type Patch struct {
	Amount   *int64     `json:"amount,omitempty"`
	Title    *string    `json:"title,omitempty"`
	Type     *Type      `json:"type,omitempty"`
	Category *string    `json:"category,omitempty"`
	Date     *time.Time `json:"date,omitempty"`
}

// AsPatch converts a full transaction into a patch with every field set.
// Used when an add is queued so the payload survives coalescing merges.
func AsPatch(t Transaction) Patch {
	amount, title, typ, category, date := t.Amount, t.Title, t.Type, t.Category, t.Date
	return Patch{
		Amount:   &amount,
		Title:    &title,
		Type:     &typ,
		Category: &category,
		Date:     &date,
	}
}

// IsZero reports whether the patch sets no fields.
func (p Patch) IsZero() bool {
	return p.Amount == nil && p.Title == nil && p.Type == nil && p.Category == nil && p.Date == nil
}

// Apply overlays the set fields onto t.
func (p Patch) Apply(t *Transaction) {
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
}

// Merge returns p with over's set fields taking precedence.
func (p Patch) Merge(over Patch) Patch {
	if over.Amount != nil {
		p.Amount = over.Amount
	}
	if over.Title != nil {
		p.Title = over.Title
	}
	if over.Type != nil {
		p.Type = over.Type
	}
	if over.Category != nil {
		p.Category = over.Category
	}
	if over.Date != nil {
		p.Date = over.Date
	}
	return p
}

// Materialize builds a transaction with the given id from the patch.
func (p Patch) Materialize(id string) Transaction {
	t := Transaction{ID: id}
	p.Apply(&t)
	return t
}

// Validate checks only the fields the patch sets, the rest stay as they are
// on the target.
func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ErrValidation{Field: "title", Message: "title is required"}
	}
	if p.Amount != nil && *p.Amount < 0 {
		return &ErrValidation{Field: "amount", Message: "amount must not be negative"}
	}
	if p.Type != nil && !p.Type.Valid() {
		return &ErrValidation{Field: "type", Message: "unknown transaction type " + string(*p.Type)}
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) == "" {
		return &ErrValidation{Field: "category", Message: "category is required"}
	}
	return nil
}

// Complete checks that every field the server requires for a create is set.
func (p Patch) Complete() error {
	if p.Title == nil || p.Amount == nil || p.Type == nil || p.Category == nil || p.Date == nil {
		return &ErrValidation{Field: "payload", Message: "queued add is missing required fields"}
	}
	t := p.Materialize("")
	return t.Validate()
}
