package views

import "github.com/floroz/auction-client/internal/domain/auctions"

// ItemSelection tracks the item picked for a new auction
type ItemSelection struct {
	id    int64
	valid bool
}

// Selected returns the selected item id, if any
func (s *ItemSelection) Selected() (int64, bool) {
	return s.id, s.valid
}

// Select picks an item. It fails when the item is not in the available list.
func (s *ItemSelection) Select(itemID int64, available []auctions.Item) bool {
	for _, it := range available {
		if it.ID == itemID {
			s.id, s.valid = itemID, true
			return true
		}
	}
	return false
}

// Reconcile keeps the selection consistent with the available items.
// When the selected item is gone (or nothing is selected) it falls back to
// the first available item, or to no selection. It reports whether the
// selection changed.
func (s *ItemSelection) Reconcile(available []auctions.Item) bool {
	if s.valid {
		for _, it := range available {
			if it.ID == s.id {
				return false
			}
		}
	}
	prevID, prevValid := s.id, s.valid
	if len(available) > 0 {
		s.id, s.valid = available[0].ID, true
	} else {
		s.id, s.valid = 0, false
	}
	return prevID != s.id || prevValid != s.valid
}
