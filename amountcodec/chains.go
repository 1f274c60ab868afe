package amountcodec

import (
	"math/big"
	"sync"
)

// ChainParams describes how wide an amount a chain can represent.
// Limited marks chains whose callable payload cannot carry a full
// 256-bit amount (eg. packed-calldata L2s); on those chains the tag
// lives inside the valid-digit prefix instead of the string tail.
type ChainParams struct {
	ID       uint64
	SizeBits uint
	Limited  bool

	maxValue  *big.Int // 2^SizeBits - 1
	maxDigits int      // decimal digit count of maxValue
}

var (
	registry   = make(map[uint64]*ChainParams)
	registryMu sync.RWMutex
)

func init() {
	// The default route-pool chain table. SizeBits comes from the width
	// of the amount field accepted by each chain's transfer payload.
	for _, p := range []ChainParams{
		{ID: 1, SizeBits: 256},                // mainnet
		{ID: 2, SizeBits: 256},                // arbitrum
		{ID: 3, SizeBits: 35, Limited: true},  // zksync lite
		{ID: 4, SizeBits: 251},                // starknet
		{ID: 5, SizeBits: 256},                // metis
		{ID: 6, SizeBits: 256},                // polygon
		{ID: 7, SizeBits: 256},                // optimism
		{ID: 8, SizeBits: 28, Limited: true},  // immutable x
		{ID: 9, SizeBits: 35, Limited: true},  // loopring
		{ID: 10, SizeBits: 256},               // boba
		{ID: 11, SizeBits: 256},               // dydx-class
	} {
		Register(p)
	}
}

// Register adds or replaces a chain entry. Derived constants are
// precomputed here so Tag/Untag never redo the 2^bits-1 math.
func Register(p ChainParams) {
	max := new(big.Int).Lsh(big.NewInt(1), p.SizeBits)
	max.Sub(max, big.NewInt(1))
	p.maxValue = max
	p.maxDigits = len(max.Text(10))

	registryMu.Lock()
	registry[p.ID] = &p
	registryMu.Unlock()
}

func chainParams(chainID uint64) (*ChainParams, bool) {
	registryMu.RLock()
	p, ok := registry[chainID]
	registryMu.RUnlock()
	return p, ok
}

// MaxValue returns 2^SizeBits - 1 for the chain.
func MaxValue(chainID uint64) (*big.Int, bool) {
	p, ok := chainParams(chainID)
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(p.maxValue), true
}
