package vault

import (
	"maps"
	"slices"
	"time"

	"github.com/punchamoorthee/quorumvault/internal/domain"
)

// entry is everything the registry keeps for one live request.
type entry struct {
	req    domain.WithdrawalRequest
	voters voterSet
	admin  domain.AdminData

	// quorumSignalled is set once the quorum-reached event has fired.
	quorumSignalled bool
}

type voterSet struct {
	order []domain.Principal
	seen  map[domain.Principal]struct{}
}

func (s *voterSet) has(p domain.Principal) bool {
	_, ok := s.seen[p]
	return ok
}

func (s *voterSet) add(p domain.Principal) {
	if s.seen == nil {
		s.seen = make(map[domain.Principal]struct{})
	}
	s.seen[p] = struct{}{}
	s.order = append(s.order, p)
}

func (s *voterSet) list() []domain.Principal {
	out := make([]domain.Principal, len(s.order))
	copy(out, s.order)
	return out
}

// creatorIndex keeps a creator's request ids in creation order. Removed ids
// leave a zero slot behind so positions stay stable; id 0 is never issued.
type creatorIndex struct {
	slots []uint64
	pos   map[uint64]int
	live  int
}

func newCreatorIndex() *creatorIndex {
	return &creatorIndex{pos: make(map[uint64]int)}
}

func (c *creatorIndex) add(id uint64) {
	c.pos[id] = len(c.slots)
	c.slots = append(c.slots, id)
	c.live++
}

func (c *creatorIndex) remove(id uint64) {
	i, ok := c.pos[id]
	if !ok {
		return
	}
	c.slots[i] = 0
	delete(c.pos, id)
	c.live--

	if c.live*2 < len(c.slots) {
		c.compact()
	}
}

func (c *creatorIndex) compact() {
	slots := make([]uint64, 0, c.live)
	for _, id := range c.slots {
		if id == 0 {
			continue
		}
		c.pos[id] = len(slots)
		slots = append(slots, id)
	}
	c.slots = slots
}

func (c *creatorIndex) ids() []uint64 {
	out := make([]uint64, 0, c.live)
	for _, id := range c.slots {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}

// registry owns all per-request state. It performs no validation; callers
// check roles, balances and existence first.
type registry struct {
	lastID    uint64
	entries   map[uint64]*entry
	byCreator map[domain.Principal]*creatorIndex
}

func newRegistry() *registry {
	return &registry{
		entries:   make(map[uint64]*entry),
		byCreator: make(map[domain.Principal]*creatorIndex),
	}
}

func (r *registry) create(creator, to domain.Principal, asset domain.Asset, amount uint64, now time.Time) *entry {
	r.lastID++
	e := &entry{
		req: domain.WithdrawalRequest{
			ID:                    r.lastID,
			Creator:               creator,
			To:                    to,
			Asset:                 asset,
			Amount:                amount,
			LastImpactfulVoteTime: now,
		},
	}
	r.entries[e.req.ID] = e

	idx, ok := r.byCreator[creator]
	if !ok {
		idx = newCreatorIndex()
		r.byCreator[creator] = idx
	}
	idx.add(e.req.ID)

	return e
}

func (r *registry) lookup(id uint64) (*entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return e, nil
}

// get returns a copy of the request, or the zero value if it does not exist.
func (r *registry) get(id uint64) domain.WithdrawalRequest {
	if e, ok := r.entries[id]; ok {
		return e.req
	}
	return domain.WithdrawalRequest{}
}

func (r *registry) delete(id uint64) {
	e, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)

	creator := e.req.Creator
	if idx, ok := r.byCreator[creator]; ok {
		idx.remove(id)
		if idx.live == 0 {
			delete(r.byCreator, creator)
		}
	}
}

func (r *registry) votedVoters(id uint64) []domain.Principal {
	e, ok := r.entries[id]
	if !ok {
		return []domain.Principal{}
	}
	return e.voters.list()
}

func (r *registry) requestsByCreator(p domain.Principal) []uint64 {
	idx, ok := r.byCreator[p]
	if !ok {
		return []uint64{}
	}
	return idx.ids()
}

func (r *registry) adminData(id uint64) domain.AdminData {
	if e, ok := r.entries[id]; ok {
		return e.admin
	}
	return domain.AdminData{}
}

// sorted returns the live entries in id order.
func (r *registry) sorted() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, id := range slices.Sorted(maps.Keys(r.entries)) {
		out = append(out, r.entries[id])
	}
	return out
}

func (r *registry) len() int {
	return len(r.entries)
}
