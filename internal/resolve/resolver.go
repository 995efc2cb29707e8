// Package resolve matches a decoded scan token against the inventory lines
// currently open for counting, narrows by lot and order when the token carries
// them, and groups ambiguous matches by physical location so the shell can run
// its disambiguation flow.
package resolve

import (
	"strings"

	"github.com/mvidal/conteo/internal/scan"
	"github.com/mvidal/conteo/internal/types"
)

// Disposition tells the caller what to do with a resolution result
type Disposition string

const (
	// DispositionNotFound means no open line matches the token
	DispositionNotFound Disposition = "not_found"
	// DispositionSingle means exactly one line matched; apply directly
	DispositionSingle Disposition = "single"
	// DispositionSingleLocation means several lines matched but they collapse
	// to one row in one location; apply that row
	DispositionSingleLocation Disposition = "single_location"
	// DispositionNeedsLocation means matches span locations; the operator
	// must pick one
	DispositionNeedsLocation Disposition = "needs_location"
	// DispositionNeedsRow means a single location still holds several rows;
	// the operator must pick one
	DispositionNeedsRow Disposition = "needs_row"
)

// Resolve returns the open lines matching the token. Item-code matching is
// exact string equality against the line's item code or its alternate product
// code, never substring.
//
// When the token carries a lot, matches are narrowed to lines whose lot equals
// any accepted representation of it; likewise for the order reference. Either
// narrowing is discarded when it would empty the result set, keeping the
// broader match instead.
func Resolve(tok scan.Token, lines []*types.InventoryLine) []*types.InventoryLine {
	if tok.ItemCode == "" {
		return nil
	}

	var matches []*types.InventoryLine
	for _, line := range lines {
		if line.ItemCode == tok.ItemCode || (line.ProdCode != "" && line.ProdCode == tok.ItemCode) {
			matches = append(matches, line)
		}
	}

	if tok.Lot != "" {
		matches = narrow(matches, func(l *types.InventoryLine) bool {
			return lotMatches(l.LotCode, tok)
		})
	}
	if tok.Order != "" {
		matches = narrow(matches, func(l *types.InventoryLine) bool {
			return l.OrderRef == tok.Order
		})
	}

	return matches
}

// narrow applies the predicate but keeps the original set when the narrowed
// one would be empty.
func narrow(lines []*types.InventoryLine, keep func(*types.InventoryLine) bool) []*types.InventoryLine {
	var out []*types.InventoryLine
	for _, l := range lines {
		if keep(l) {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return lines
	}
	return out
}

// lotMatches accepts the scanned lot, its bare-digit alternate, the alternate
// with the "m" marker re-applied, and the scanned lot with a leading "m"
// stripped.
func lotMatches(lineLot string, tok scan.Token) bool {
	if lineLot == "" {
		return false
	}
	if lineLot == tok.Lot {
		return true
	}
	if tok.AltLot != "" && (lineLot == tok.AltLot || lineLot == "m"+tok.AltLot) {
		return true
	}
	if stripped := strings.TrimPrefix(tok.Lot, "m"); stripped != tok.Lot && lineLot == stripped {
		return true
	}
	return false
}

// LocationGroup is the candidate rows sharing one physical location
type LocationGroup struct {
	Location string
	Lines    []*types.InventoryLine
}

// GroupByLocation partitions candidates by location, preserving first-seen
// location order for stable display.
func GroupByLocation(cands []*types.InventoryLine) []LocationGroup {
	var groups []LocationGroup
	index := make(map[string]int)
	for _, l := range cands {
		i, ok := index[l.Location]
		if !ok {
			i = len(groups)
			index[l.Location] = i
			groups = append(groups, LocationGroup{Location: l.Location})
		}
		groups[i].Lines = append(groups[i].Lines, l)
	}
	return groups
}

// Dispose classifies the result cardinality for the caller's branching
func Dispose(cands []*types.InventoryLine) Disposition {
	switch len(cands) {
	case 0:
		return DispositionNotFound
	case 1:
		return DispositionSingle
	}
	groups := GroupByLocation(cands)
	if len(groups) > 1 {
		return DispositionNeedsLocation
	}
	// Snapshots assembled from overlapping scopes can list one line twice;
	// duplicates do not make the match ambiguous.
	distinct := make(map[string]struct{})
	for _, l := range groups[0].Lines {
		distinct[l.LineID] = struct{}{}
	}
	if len(distinct) == 1 {
		return DispositionSingleLocation
	}
	return DispositionNeedsRow
}

// PendingKey builds the stable human-readable key shown while a scan awaits
// disambiguation.
func PendingKey(tok scan.Token) string {
	if tok.ItemCode == "" {
		return ""
	}
	if tok.Lot == "" {
		return tok.ItemCode
	}
	return tok.ItemCode + " / " + tok.Lot
}
