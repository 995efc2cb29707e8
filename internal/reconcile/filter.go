package reconcile

import "strings"

// FilterSpec selects merged rows. Text fields match case-insensitively as
// substrings; empty fields match everything. AcceptedOnly and RecountOnly are
// mutually exclusive toggles enforced by the caller.
type FilterSpec struct {
	Group         string
	Label         string
	ItemCode      string
	Description   string
	UnitOfMeasure string
	Location      string
	Lot           string
	AcceptedOnly  bool
	RecountOnly   bool
}

// Filter returns the rows matching the spec. It never mutates the input rows.
func Filter(rows []Row, spec FilterSpec) []Row {
	var out []Row
	for _, row := range rows {
		if spec.Matches(row) {
			out = append(out, row)
		}
	}
	return out
}

// Matches reports whether one row satisfies the spec
func (f FilterSpec) Matches(row Row) bool {
	if f.AcceptedOnly && row.Decision != DecisionAccepted {
		return false
	}
	if f.RecountOnly && row.Decision != DecisionRecount {
		return false
	}
	if !containsFold(row.Label, f.Label) {
		return false
	}
	if !containsFold(row.ItemCode, f.ItemCode) {
		return false
	}
	if !containsFold(row.Description, f.Description) {
		return false
	}
	if !containsFold(row.UnitOfMeasure, f.UnitOfMeasure) {
		return false
	}
	if !containsFold(row.Location, f.Location) {
		return false
	}
	if !containsFold(row.LotCode, f.Lot) {
		return false
	}
	if f.Group != "" {
		names := row.GroupNames1 + ", " + row.GroupNames2 + ", " + row.GroupNames3
		if !containsFold(names, f.Group) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
