package auctions

// SetItems replaces the inventory of an owner with a fresh snapshot
func (s *Store) SetItems(ownerID int64, items []Item) {
	cp := make([]Item, len(items))
	copy(cp, items)
	s.items[ownerID] = cp
}

// Items returns a copy of the owner's inventory
func (s *Store) Items(ownerID int64) []Item {
	items := s.items[ownerID]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// BacksOpenAuction reports whether the item is offered in an auction that is still open
func (s *Store) BacksOpenAuction(itemID int64) bool {
	for id, rec := range s.records {
		if rec.Item.ID != itemID || rec.Status != StatusOpen {
			continue
		}
		if _, gone := s.evicted[id]; !gone {
			return true
		}
	}
	return false
}
