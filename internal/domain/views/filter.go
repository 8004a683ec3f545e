package views

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/floroz/auction-client/internal/domain/auctions"
)

// MinNameLength is the number of runes a name search needs before it filters anything
const MinNameLength = 4

// Filter narrows the open auction list. Zero values are inactive.
type Filter struct {
	Name          string
	Type          string
	DurationHours *int
	MaxPrice      *decimal.Decimal
}

// Matches reports whether the auction satisfies every active predicate
func (f Filter) Matches(a auctions.Auction) bool {
	if utf8.RuneCountInString(f.Name) >= MinNameLength {
		if !strings.Contains(fold(a.Title), fold(f.Name)) {
			return false
		}
	}
	if f.Type != "" {
		if fold(string(a.Item.Type)) != fold(f.Type) {
			return false
		}
	}
	if f.DurationHours != nil {
		if int(math.Round(a.Duration().Hours())) != *f.DurationHours {
			return false
		}
	}
	if f.MaxPrice != nil && a.CurrentPrice.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

// fold normalises a string for case- and accent-insensitive comparison:
// "Épicas" and "epicas" fold to the same value.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
