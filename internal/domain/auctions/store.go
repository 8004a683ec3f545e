package auctions

// Store is the single source of truth for every known auction, keyed by id.
//
// Records are never deleted. Evict only drops an id from the open index so
// history and detail views still resolve it.
//
// Store is not safe for concurrent use; callers serialise access.
type Store struct {
	records  map[int64]Auction
	order    []int64
	open     map[int64]struct{}
	evicted  map[int64]struct{}
	revision map[int64]uint64
	items    map[int64][]Item
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		records:  make(map[int64]Auction),
		open:     make(map[int64]struct{}),
		evicted:  make(map[int64]struct{}),
		revision: make(map[int64]uint64),
		items:    make(map[int64][]Item),
	}
}

// Upsert replaces the record wholesale if present, inserts it otherwise
func (s *Store) Upsert(full Auction) {
	rec := full.Clone()
	clampPrice(&rec)
	s.put(rec)
}

// Patch merges an authoritative partial record into the store.
// A patch for an unknown id creates a minimal record so the auction becomes
// visible before full data arrives. Provisional bids are dropped when the
// patch asserts price or bid data, since the server's view supersedes the guess.
func (s *Store) Patch(p PartialAuction) {
	current := s.records[p.ID]
	if p.carriesPrice() {
		current = current.Clone()
		stripProvisional(&current, func(Bid) bool { return true })
	}
	s.put(applyPatch(current, p))
}

// PatchSpeculative merges a locally generated patch without touching
// provisional bids already present.
func (s *Store) PatchSpeculative(p PartialAuction) {
	s.put(applyPatch(s.records[p.ID], p))
}

// StripProvisional removes the provisional bid with the given id.
// It reports whether the bid was still present.
func (s *Store) StripProvisional(auctionID, bidID int64) bool {
	rec, ok := s.records[auctionID]
	if !ok {
		return false
	}
	rec = rec.Clone()
	if !stripProvisional(&rec, func(b Bid) bool { return b.ID == bidID }) {
		return false
	}
	s.put(rec)
	return true
}

// Restore puts back a record captured earlier, as long as nothing else
// touched it since revision rev. It reports whether the restore happened.
func (s *Store) Restore(prev Auction, rev uint64) bool {
	if s.revision[prev.ID] != rev {
		return false
	}
	s.put(prev.Clone())
	return true
}

// Index adds the id to the open index unless it was evicted
func (s *Store) Index(id int64) {
	if _, gone := s.evicted[id]; gone {
		return
	}
	if _, ok := s.records[id]; ok {
		s.open[id] = struct{}{}
	}
}

// Evict removes the id from the open index and remembers it as closed
func (s *Store) Evict(id int64) {
	delete(s.open, id)
	s.evicted[id] = struct{}{}
}

// Get returns a copy of the record
func (s *Store) Get(id int64) (Auction, bool) {
	rec, ok := s.records[id]
	if !ok {
		return Auction{}, false
	}
	return rec.Clone(), true
}

// Has reports whether the id is known
func (s *Store) Has(id int64) bool {
	_, ok := s.records[id]
	return ok
}

// IsEvicted reports whether a closed event removed the id from the open index
func (s *Store) IsEvicted(id int64) bool {
	_, ok := s.evicted[id]
	return ok
}

// IsOpen reports whether the id is in the open index
func (s *Store) IsOpen(id int64) bool {
	_, ok := s.open[id]
	return ok
}

// IsTerminal reports whether the record can no longer be reopened by an update
func (s *Store) IsTerminal(id int64) bool {
	if s.IsEvicted(id) {
		return true
	}
	rec, ok := s.records[id]
	return ok && rec.Status.IsTerminal()
}

// Revision returns the mutation counter of the record
func (s *Store) Revision(id int64) uint64 {
	return s.revision[id]
}

// Len returns the number of known auctions
func (s *Store) Len() int {
	return len(s.records)
}

// All returns copies of every record in insertion order
func (s *Store) All() []Auction {
	out := make([]Auction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}

// Open returns copies of the records in the open index, in insertion order
func (s *Store) Open() []Auction {
	out := make([]Auction, 0, len(s.open))
	for _, id := range s.order {
		if _, ok := s.open[id]; ok {
			out = append(out, s.records[id].Clone())
		}
	}
	return out
}

func (s *Store) put(rec Auction) {
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	s.revision[rec.ID]++
}
