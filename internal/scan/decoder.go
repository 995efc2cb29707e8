// Package scan decodes the opaque text a barcode scanner (or a typing
// operator) delivers into a structured token the resolver can match against
// open inventory lines.
//
// Decoding is best-effort and never fails: the worst case treats the whole
// cleaned input as an item code. An empty ItemCode is the only "no token"
// signal.
package scan

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Token is the structured form of one scanned string. It lives for a single
// scan-to-resolution cycle and is never persisted.
type Token struct {
	// Raw is the cleaned input the token was decoded from
	Raw string
	// ItemCode is empty only when the input contained nothing usable
	ItemCode string
	// Lot is the lot code as scanned (may carry a leading "m" marker)
	Lot string
	// AltLot is the bare-digit form of a marker-prefixed lot. Matching must
	// accept either representation, so the decoder carries both.
	AltLot string
	// Order is the order / purchase-order reference segment
	Order string
	// QtyToken is the explicit trailing quantity segment, when present
	QtyToken string
	// Unit is the 2-digit unit/quantity field of the fixed-width layout
	Unit string
}

const (
	fixedWidthDigits = 20
	itemCodeShort    = 6
	itemCodeLong     = 7
	segmentWidth     = 6
)

// Decode turns raw scanner input into a Token. Policy, tried in order:
//
//  1. digit projection is exactly 20 digits: fixed-width item(6)/lot(6)/order(6)/unit(2)
//  2. digit projection longer than 20: item(7)/lot(6)/order(6)/quantity(rest)
//  3. an "m"/"M" separator past position 0: digits left of it are the item
//     code, digits right of it split lot(6)/order(6)/quantity(rest)
//  4. any digits at all: item code is the first 7 digits
//  5. otherwise: item code is the whole cleaned string
func Decode(raw string) Token {
	cleaned := clean(raw)
	tok := Token{Raw: cleaned}
	if cleaned == "" {
		return tok
	}

	digits := digitsOf(cleaned)

	switch {
	case len(digits) == fixedWidthDigits:
		tok.ItemCode = digits[:itemCodeShort]
		tok.Lot = digits[itemCodeShort : itemCodeShort+segmentWidth]
		tok.Order = digits[itemCodeShort+segmentWidth : itemCodeShort+2*segmentWidth]
		tok.Unit = digits[fixedWidthDigits-2:]

	case len(digits) > fixedWidthDigits && len(digits)-itemCodeLong > 2*segmentWidth:
		tok.ItemCode = digits[:itemCodeLong]
		tok.Lot = digits[itemCodeLong : itemCodeLong+segmentWidth]
		tok.Order = digits[itemCodeLong+segmentWidth : itemCodeLong+2*segmentWidth]
		tok.QtyToken = digits[itemCodeLong+2*segmentWidth:]

	case hasLotSeparator(cleaned):
		decodeSeparated(cleaned, &tok)

	case len(digits) > 0:
		tok.ItemCode = digits
		if len(digits) > itemCodeLong {
			tok.ItemCode = digits[:itemCodeLong]
		}

	default:
		tok.ItemCode = cleaned
	}

	return tok
}

// Increment extracts the quantity a scan should add: the explicit quantity
// token when present, else the fixed-width unit field. Comma is tolerated as
// the decimal separator, the value is rounded to 4 decimals, and negatives
// clamp to zero. Returns nil when no parseable quantity exists.
func (t Token) Increment() *decimal.Decimal {
	s := t.QtyToken
	if s == "" {
		s = t.Unit
	}
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	d = d.Round(4)
	if d.IsNegative() {
		d = decimal.Zero
	}
	return &d
}

// HasLot reports whether the token carries a lot segment
func (t Token) HasLot() bool {
	return t.Lot != ""
}

// clean strips line breaks and surrounding whitespace. Scanners commonly
// append CR/LF terminators to the injected burst.
func clean(raw string) string {
	raw = strings.ReplaceAll(raw, "\r", "")
	raw = strings.ReplaceAll(raw, "\n", "")
	return strings.TrimSpace(raw)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hasLotSeparator(s string) bool {
	compact := strings.ReplaceAll(s, " ", "")
	idx := strings.IndexAny(compact, "mM")
	return idx > 0
}

// decodeSeparated handles the "<item>m<lot><order><qty>" layout. The lot is
// stored both with the "m" marker and as bare digits because lines may carry
// either representation.
func decodeSeparated(cleaned string, tok *Token) {
	compact := strings.ReplaceAll(cleaned, " ", "")
	idx := strings.IndexAny(compact, "mM")

	tok.ItemCode = digitsOf(compact[:idx])
	rest := digitsOf(compact[idx+1:])

	lot := rest
	if len(lot) > segmentWidth {
		lot = lot[:segmentWidth]
	}
	if lot != "" {
		tok.Lot = "m" + lot
		tok.AltLot = lot
	}
	if len(rest) > segmentWidth {
		order := rest[segmentWidth:]
		if len(order) > segmentWidth {
			tok.QtyToken = order[segmentWidth:]
			order = order[:segmentWidth]
		}
		tok.Order = order
	}

	// A separator with no digits on the left degrades to the plain-digit rule.
	if tok.ItemCode == "" {
		digits := digitsOf(compact)
		if len(digits) > itemCodeLong {
			digits = digits[:itemCodeLong]
		}
		tok.ItemCode = digits
		if tok.ItemCode == "" {
			tok.ItemCode = cleaned
		}
	}
}
