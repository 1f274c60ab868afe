package orman

import (
	"context"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

type rootKey struct {
	chainID uint64
	user    bool
}

// SimulatedRegistry keeps roots in memory. Stands in for the contract
// in tests and local runs. Unset roots read back as the zero hash,
// matching a freshly deployed registry.
type SimulatedRegistry struct {
	mu    sync.RWMutex
	roots map[rootKey]ethcommon.Hash

	// SetCalls counts successful writes, handy for asserting that a
	// sync pass skipped an unchanged root.
	SetCalls int
}

func NewSimulatedRegistry() *SimulatedRegistry {
	return &SimulatedRegistry{
		roots: make(map[rootKey]ethcommon.Hash),
	}
}

func (s *SimulatedRegistry) UserTxTreeRoot(_ context.Context, chainID uint64) (ethcommon.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roots[rootKey{chainID, true}], nil
}

func (s *SimulatedRegistry) MakerTxTreeRoot(_ context.Context, chainID uint64) (ethcommon.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roots[rootKey{chainID, false}], nil
}

func (s *SimulatedRegistry) SetUserTxTreeRoot(_ context.Context, chainID uint64, root ethcommon.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[rootKey{chainID, true}] = root
	s.SetCalls++
	return nil
}

func (s *SimulatedRegistry) SetMakerTxTreeRoot(_ context.Context, chainID uint64, root ethcommon.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[rootKey{chainID, false}] = root
	s.SetCalls++
	return nil
}
