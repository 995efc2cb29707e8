// Package reconcile merges finalized count observations from up to three
// passes into one decided row per physical (location, item, lot), computes the
// automatic accept/recount decision and the variance against the frozen book
// quantity, and offers pure filtering over the merged rows.
//
// The engine operates on a closed snapshot and never mutates its input; it is
// independent of the live-capture components.
package reconcile

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mvidal/conteo/internal/types"
)

// noLotSentinel keys rows for lot-less items so they never collide with a
// real lot code.
const noLotSentinel = "__NONE__"

// Decision is the automatic outcome for one merged row
type Decision string

const (
	// DecisionPending means the first or second count is still missing
	DecisionPending Decision = "pending"
	// DecisionAccepted means the first two counts agree
	DecisionAccepted Decision = "accepted"
	// DecisionRecount means the first two counts disagree; the third pass
	// settles it when present
	DecisionRecount Decision = "recount"
)

// Row is one reconciled (location, item, lot). Rebuilt from scratch on every
// pass; FinalCapture is derived, never independently settable.
type Row struct {
	Location string `json:"location"`
	ItemCode string `json:"item_code"`
	LotCode  string `json:"lot_code,omitempty"`
	Label    string `json:"label,omitempty"`

	Description   string `json:"description,omitempty"`
	UnitOfMeasure string `json:"unit_of_measure,omitempty"`

	UnitCost  *decimal.Decimal `json:"unit_cost,omitempty"`
	FrozenQty *decimal.Decimal `json:"frozen_qty,omitempty"`

	CountedQty1 *decimal.Decimal `json:"counted_qty_1"`
	CountedQty2 *decimal.Decimal `json:"counted_qty_2"`
	CountedQty3 *decimal.Decimal `json:"counted_qty_3"`

	// GroupNames1..3 are the deduplicated, comma-joined names of the groups
	// that contributed each slot. A key may legitimately be counted by more
	// than one group within a slot.
	GroupNames1 string `json:"group_names_1,omitempty"`
	GroupNames2 string `json:"group_names_2,omitempty"`
	GroupNames3 string `json:"group_names_3,omitempty"`

	Decision     Decision         `json:"decision"`
	FinalCapture *decimal.Decimal `json:"final_capture"`
}

type rowKey struct {
	location string
	itemCode string
	lotCode  string
}

// mergedRow accumulates observations before the decision pass
type mergedRow struct {
	row    Row
	groups [3][]string
}

// Reconcile merges the finalized records and decides every resulting row.
// Records with an unknown slot are skipped. Descriptive attributes merge
// first-non-empty-wins; group names accumulate per slot.
func Reconcile(records []types.CountRecord) []Row {
	index := make(map[rowKey]*mergedRow)
	var order []rowKey

	for _, rec := range records {
		if !rec.Slot.Valid() || rec.ItemCode == "" {
			continue
		}
		key := rowKey{
			location: rec.Location,
			itemCode: rec.ItemCode,
			lotCode:  rec.LotCode,
		}
		if key.lotCode == "" {
			key.lotCode = noLotSentinel
		}

		m, ok := index[key]
		if !ok {
			m = &mergedRow{row: Row{
				Location: rec.Location,
				ItemCode: rec.ItemCode,
				LotCode:  rec.LotCode,
			}}
			index[key] = m
			order = append(order, key)
		}
		mergeRecord(m, rec)
	}

	rows := make([]Row, 0, len(order))
	for _, key := range order {
		m := index[key]
		m.row.GroupNames1 = joinNames(m.groups[0])
		m.row.GroupNames2 = joinNames(m.groups[1])
		m.row.GroupNames3 = joinNames(m.groups[2])
		decide(&m.row)
		rows = append(rows, m.row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.ItemCode != b.ItemCode {
			return a.ItemCode < b.ItemCode
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.LotCode < b.LotCode
	})

	return rows
}

func mergeRecord(m *mergedRow, rec types.CountRecord) {
	row := &m.row

	if row.Label == "" {
		row.Label = rec.Label
	}
	if row.Description == "" {
		row.Description = rec.Description
	}
	if row.UnitOfMeasure == "" {
		row.UnitOfMeasure = rec.UnitOfMeasure
	}
	if row.UnitCost == nil {
		row.UnitCost = rec.UnitCost
	}
	if row.FrozenQty == nil {
		row.FrozenQty = rec.FrozenQty
	}

	slot := int(rec.Slot) - 1
	if rec.CountedQty != nil {
		switch rec.Slot {
		case types.SlotFirst:
			row.CountedQty1 = rec.CountedQty
		case types.SlotSecond:
			row.CountedQty2 = rec.CountedQty
		case types.SlotThird:
			row.CountedQty3 = rec.CountedQty
		}
	}
	if rec.GroupName != "" {
		m.groups[slot] = appendName(m.groups[slot], rec.GroupName)
	}
}

func appendName(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}

// decide applies the decision table; it is a pure function of the three
// counted quantities.
func decide(row *Row) {
	switch {
	case row.CountedQty1 == nil || row.CountedQty2 == nil:
		row.Decision = DecisionPending
		row.FinalCapture = nil
	case row.CountedQty1.Equal(*row.CountedQty2):
		row.Decision = DecisionAccepted
		row.FinalCapture = row.CountedQty2
	default:
		row.Decision = DecisionRecount
		row.FinalCapture = row.CountedQty3
	}
}

// VarianceUnits is final capture (0 when null) minus frozen quantity (0 when
// null).
func (r Row) VarianceUnits() decimal.Decimal {
	final := decimal.Zero
	if r.FinalCapture != nil {
		final = *r.FinalCapture
	}
	frozen := decimal.Zero
	if r.FrozenQty != nil {
		frozen = *r.FrozenQty
	}
	return final.Sub(frozen)
}

// VarianceValue is the monetary variance, nil when the unit cost is unknown
func (r Row) VarianceValue() *decimal.Decimal {
	if r.UnitCost == nil {
		return nil
	}
	v := r.VarianceUnits().Mul(*r.UnitCost)
	return &v
}
