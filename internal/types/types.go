// Package types defines the shared domain records for the count-capture and
// reconciliation engine: inventory lines open for counting, and finalized count
// observations consumed by reconciliation.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CountSlot identifies one of up to three independent counting passes over the
// same inventory scope.
type CountSlot int

const (
	// SlotFirst is the first counting pass
	SlotFirst CountSlot = 1
	// SlotSecond is the second counting pass
	SlotSecond CountSlot = 2
	// SlotThird is the tie-breaking pass, performed only after a mismatch
	SlotThird CountSlot = 3
)

// Valid reports whether the slot is one of the three known passes
func (s CountSlot) Valid() bool {
	return s >= SlotFirst && s <= SlotThird
}

// InventoryLine is one physical count slot: a (location, item, lot) the
// operator is expected to count within a specific count pass.
//
// Lines are created when a count is opened, mutated only through the capture
// session, and become read-only when the count closes.
type InventoryLine struct {
	LineID      string `json:"line_id"`
	OperationID string `json:"operation_id"`
	GroupID     string `json:"group_id"`
	CountID     string `json:"count_id"`

	// ItemCode is the primary item identifier scanned codes resolve against
	ItemCode string `json:"item_code"`
	// ProdCode is an alternate product identifier; scans match either code
	ProdCode string `json:"prod_code,omitempty"`
	// LotCode is empty for lot-less items
	LotCode string `json:"lot_code,omitempty"`
	// OrderRef is the purchase-order / order reference, when the line is tied to one
	OrderRef string `json:"order_ref,omitempty"`

	Location      string `json:"location"`
	Description   string `json:"description,omitempty"`
	UnitOfMeasure string `json:"unit_of_measure,omitempty"`

	UnitCost *decimal.Decimal `json:"unit_cost,omitempty"`
	// SystemFrozenQty is the book quantity frozen when the operation opened
	SystemFrozenQty *decimal.Decimal `json:"system_frozen_qty,omitempty"`

	// CountedQty is nil while the line has never been counted
	CountedQty *decimal.Decimal `json:"counted_qty"`
	// NotFound marks a line the operator looked for and could not locate
	NotFound bool `json:"not_found"`
}

// Validate checks the line has the identifiers capture and persistence need
func (l *InventoryLine) Validate() error {
	if l.LineID == "" {
		return fmt.Errorf("line_id is required")
	}
	if l.ItemCode == "" {
		return fmt.Errorf("item_code is required (line %s)", l.LineID)
	}
	if l.CountID == "" {
		return fmt.Errorf("count_id is required (line %s)", l.LineID)
	}
	return nil
}

// CountRecord is one finalized observation from a closed count pass. The
// reconciliation engine merges records sharing (location, item, lot) across
// slots into a single decided row.
type CountRecord struct {
	Slot      CountSlot `json:"slot"`
	GroupID   string    `json:"group_id"`
	GroupName string    `json:"group_name"`
	Label     string    `json:"label,omitempty"`

	Location string `json:"location"`
	ItemCode string `json:"item_code"`
	LotCode  string `json:"lot_code,omitempty"`

	Description   string `json:"description,omitempty"`
	UnitOfMeasure string `json:"unit_of_measure,omitempty"`

	UnitCost  *decimal.Decimal `json:"unit_cost,omitempty"`
	FrozenQty *decimal.Decimal `json:"frozen_qty,omitempty"`

	// CountedQty is nil when the slot never produced a quantity for this key
	CountedQty *decimal.Decimal `json:"counted_qty"`

	ClosedAt time.Time `json:"closed_at,omitempty"`
}

// Validate checks the record carries enough to be merged
func (r *CountRecord) Validate() error {
	if !r.Slot.Valid() {
		return fmt.Errorf("slot must be 1, 2 or 3 (got %d)", r.Slot)
	}
	if r.ItemCode == "" {
		return fmt.Errorf("item_code is required")
	}
	return nil
}

// DecimalPtr returns a pointer to d. Convenience for building literals.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// DecimalEqual compares two nullable quantities; two nils are equal
func DecimalEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
