// Package market is the read-only lookup over the maker route table.
// Refreshes build a whole new Index and swap it in atomically; readers
// keep the snapshot they started with for the whole operation.
package market

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

var (
	ErrNoSnapshot   = errors.New("market has no route snapshot loaded")
	ErrEmptyRoutes  = errors.New("route list is empty")
	ErrRouteInvalid = errors.New("route entry is invalid")
)

// Index is an immutable lookup over one route-table snapshot.
type Index struct {
	routes      []*Route
	bySender    map[string][]*Route
	byRecipient map[string][]*Route
	chainIDs    []uint64
}

// NewIndex builds an Index from a route list. The list is copied; the
// caller may mutate its slice afterwards.
func NewIndex(routes []Route) (*Index, error) {
	if len(routes) == 0 {
		return nil, ErrEmptyRoutes
	}

	idx := &Index{
		bySender:    make(map[string][]*Route),
		byRecipient: make(map[string][]*Route),
	}
	chains := make(map[uint64]bool)

	for i := range routes {
		r := routes[i] // copy
		if r.FromChainID == 0 || r.ToChainID == 0 || r.FromSymbol == "" ||
			r.MakerSender == "" || r.MakerRecipient == "" {
			return nil, ErrRouteInvalid
		}
		r.MakerSender = normalizeAddr(r.MakerSender)
		r.MakerRecipient = normalizeAddr(r.MakerRecipient)
		r.FromToken = normalizeAddr(r.FromToken)
		r.ToToken = normalizeAddr(r.ToToken)

		idx.routes = append(idx.routes, &r)
		idx.bySender[r.MakerSender] = append(idx.bySender[r.MakerSender], &r)
		idx.byRecipient[r.MakerRecipient] = append(idx.byRecipient[r.MakerRecipient], &r)
		chains[r.FromChainID] = true
		chains[r.ToChainID] = true
	}

	for id := range chains {
		idx.chainIDs = append(idx.chainIDs, id)
	}
	sort.Slice(idx.chainIDs, func(i, j int) bool { return idx.chainIDs[i] < idx.chainIDs[j] })

	return idx, nil
}

// FindRoute looks up the route serving (fromChain -> toChain, symbol,
// token) at the given timestamp. All predicates must hold at once;
// first match wins. Ambiguous overlaps are a configuration error, not
// resolved here.
func (idx *Index) FindRoute(fromChain, toChain uint64, symbol, token string, ts int64) (*Route, bool) {
	token = normalizeAddr(token)
	symbol = strings.ToUpper(symbol)
	for _, r := range idx.routes {
		if r.FromChainID != fromChain || r.ToChainID != toChain {
			continue
		}
		if !strings.EqualFold(r.FromSymbol, symbol) {
			continue
		}
		if token != "" && r.FromToken != "" && r.FromToken != token {
			continue
		}
		if !r.InWindow(ts) {
			continue
		}
		return r, true
	}
	return nil, false
}

// RouteByID returns the route with the given id, if present.
func (idx *Index) RouteByID(id string) (*Route, bool) {
	if id == "" {
		return nil, false
	}
	for _, r := range idx.routes {
		if r.RouteID == id {
			return r, true
		}
	}
	return nil, false
}

// RoutesBySender returns the routes whose maker pays replies from addr.
func (idx *Index) RoutesBySender(addr string) []*Route {
	return idx.bySender[normalizeAddr(addr)]
}

// RoutesByRecipient returns the routes whose maker receives deposits at addr.
func (idx *Index) RoutesByRecipient(addr string) []*Route {
	return idx.byRecipient[normalizeAddr(addr)]
}

func (idx *Index) IsMakerSender(addr string) bool {
	return len(idx.RoutesBySender(addr)) > 0
}

func (idx *Index) IsMakerRecipient(addr string) bool {
	return len(idx.RoutesByRecipient(addr)) > 0
}

// ChainIDs returns the distinct chains the snapshot touches, ascending.
func (idx *Index) ChainIDs() []uint64 {
	out := make([]uint64, len(idx.chainIDs))
	copy(out, idx.chainIDs)
	return out
}

// Routes returns the snapshot's route list.
func (idx *Index) Routes() []*Route {
	return idx.routes
}

// Market holds the current Index behind an atomic reference.
type Market struct {
	current atomic.Value // *Index
}

func NewMarket(routes []Route) (*Market, error) {
	m := &Market{}
	if err := m.Replace(routes); err != nil {
		return nil, err
	}
	return m, nil
}

// Snapshot returns the current Index. Callers hold it for the whole
// matching attempt; a concurrent Replace does not affect them.
func (m *Market) Snapshot() (*Index, error) {
	v := m.current.Load()
	if v == nil {
		return nil, ErrNoSnapshot
	}
	return v.(*Index), nil
}

// Replace builds a fresh Index and swaps it in. On error the previous
// snapshot stays in place.
func (m *Market) Replace(routes []Route) error {
	idx, err := NewIndex(routes)
	if err != nil {
		return err
	}
	m.current.Store(idx)
	return nil
}

// ChainIDs reports the chains of the current snapshot, nil before the
// first Replace.
func (m *Market) ChainIDs() []uint64 {
	idx, err := m.Snapshot()
	if err != nil {
		return nil
	}
	return idx.ChainIDs()
}

// LoadFile reads a maker route JSON document and swaps it in.
func (m *Market) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var routes []Route
	if err := json.Unmarshal(data, &routes); err != nil {
		return err
	}
	return m.Replace(routes)
}
