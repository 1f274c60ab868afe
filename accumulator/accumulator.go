// Package accumulator maintains the per-chain Merkle trees of
// challengeable transfers and keeps their roots published on chain.
//
// Two trees exist per watched chain. The user tree collects deposits
// whose response window elapsed without a reply. The maker tree
// collects replies that arrived after their window. Both are
// append-only; a row enters its tree at most once and never leaves.
package accumulator

import (
	"context"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/obridge/maker-go/common"
	"github.com/obridge/maker-go/matcher"
	"github.com/obridge/maker-go/merkle"
	"github.com/obridge/maker-go/orman"
)

// Kind selects one of the two trees kept per chain.
type Kind int

const (
	KindUserTx  Kind = 0
	KindMakerTx Kind = 1
)

func (k Kind) String() string {
	if k == KindUserTx {
		return "userTx"
	}
	return "makerTx"
}

type Config struct {
	// SyncInterval is the period of the rebuild-and-sync loop.
	SyncInterval time.Duration
}

func DefaultConfig() Config {
	return Config{SyncInterval: 60 * time.Second}
}

// marketSource is the slice of the market the accumulator needs.
type marketSource interface {
	ChainIDs() []uint64
}

type treeKey struct {
	chainID uint64
	kind    Kind
}

type treeState struct {
	tree *merkle.Tree

	// maxID is the largest tx row id already folded into the tree.
	// Rebuild resumes from here, so each pass only scans new rows.
	maxID int64
}

type Accumulator struct {
	store    *matcher.Store
	market   marketSource
	registry orman.RootRegistry
	cfg      Config

	mu    sync.RWMutex
	trees map[treeKey]*treeState
}

func New(store *matcher.Store, market marketSource, registry orman.RootRegistry, cfg Config) *Accumulator {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultConfig().SyncInterval
	}
	return &Accumulator{
		store:    store,
		market:   market,
		registry: registry,
		cfg:      cfg,
		trees:    make(map[treeKey]*treeState),
	}
}

// Loop runs the accumulator until ctx is cancelled. One goroutine owns
// all tree mutation; readers go through Proof. Errors inside a tick are
// logged and the next tick proceeds, an accumulator never kills the
// process over a transient rpc or db failure.
//
// The first pass runs immediately, so a restarted process serves
// proofs and re-verifies the on-chain roots without waiting out a
// full interval.
func (a *Accumulator) Loop(ctx context.Context) error {
	if err := a.Rebuild(ctx); err != nil {
		logger.WithField("error", err).Error("startup rebuild failed")
	} else {
		a.syncAll(ctx)
	}

	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Rebuild(ctx); err != nil {
				logger.WithField("error", err).Error("accumulator rebuild failed")
				continue
			}
			a.syncAll(ctx)
		}
	}
}

// Rebuild folds all newly qualifying rows into their trees. Safe to
// call repeatedly; rows already present are skipped by leaf hash.
func (a *Accumulator) Rebuild(ctx context.Context) error {
	now := time.Now().Unix()
	for _, chainID := range a.market.ChainIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}

		overdue, err := a.store.ListOverdueUserTx(chainID, a.maxSeenID(chainID, KindUserTx), now)
		if err != nil {
			return err
		}
		a.appendAll(chainID, KindUserTx, overdue)

		delayed, err := a.store.ListDelayedMakerTx(chainID, a.maxSeenID(chainID, KindMakerTx))
		if err != nil {
			return err
		}
		a.appendAll(chainID, KindMakerTx, delayed)
	}
	return nil
}

// AppendIfNew adds one row to its tree, deduplicating by leaf hash.
// Returns true when the tree grew.
func (a *Accumulator) AppendIfNew(chainID uint64, kind Kind, tx *matcher.Transaction) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendLocked(chainID, kind, tx)
}

// SyncRoot publishes the local root for one tree when it differs from
// the on-chain one.
func (a *Accumulator) SyncRoot(ctx context.Context, chainID uint64, kind Kind) error {
	a.mu.RLock()
	st, ok := a.trees[treeKey{chainID, kind}]
	var local ethcommon.Hash
	var size int
	if ok {
		local = st.tree.Root()
		size = st.tree.Size()
	}
	a.mu.RUnlock()

	if !ok || size == 0 {
		return nil
	}

	var (
		remote ethcommon.Hash
		err    error
	)
	if kind == KindUserTx {
		remote, err = a.registry.UserTxTreeRoot(ctx, chainID)
	} else {
		remote, err = a.registry.MakerTxTreeRoot(ctx, chainID)
	}
	if err != nil {
		return err
	}

	if remote == local {
		return nil
	}

	logger.WithFields(logger.Fields{
		"chainId": chainID,
		"kind":    kind.String(),
		"local":   local.Hex(),
		"remote":  remote.Hex(),
		"leaves":  size,
	}).Info("submitting merkle root")

	if kind == KindUserTx {
		return a.registry.SetUserTxTreeRoot(ctx, chainID, local)
	}
	return a.registry.SetMakerTxTreeRoot(ctx, chainID, local)
}

// Proof returns the membership proof and current root for a leaf.
// ok is false whenever the tree or the leaf is absent, including while
// the row has simply not been folded in yet.
func (a *Accumulator) Proof(chainID uint64, kind Kind, leaf ethcommon.Hash) (proof []merkle.ProofNode, root ethcommon.Hash, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, found := a.trees[treeKey{chainID, kind}]
	if !found || !st.tree.Has(leaf) {
		return nil, ethcommon.Hash{}, false
	}
	proof, err := st.tree.Proof(leaf)
	if err != nil {
		return nil, ethcommon.Hash{}, false
	}
	return proof, st.tree.Root(), true
}

// Size reports the leaf count of one tree, zero when absent.
func (a *Accumulator) Size(chainID uint64, kind Kind) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, found := a.trees[treeKey{chainID, kind}]
	if !found {
		return 0
	}
	return st.tree.Size()
}

func (a *Accumulator) syncAll(ctx context.Context) {
	for _, chainID := range a.market.ChainIDs() {
		for _, kind := range []Kind{KindUserTx, KindMakerTx} {
			if err := a.SyncRoot(ctx, chainID, kind); err != nil {
				logger.WithFields(logger.Fields{
					"chainId": chainID,
					"kind":    kind.String(),
					"error":   err,
				}).Error("root sync failed")
			}
		}
	}
}

func (a *Accumulator) appendAll(chainID uint64, kind Kind, txs []*matcher.Transaction) {
	if len(txs) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tx := range txs {
		a.appendLocked(chainID, kind, tx)
	}
}

func (a *Accumulator) appendLocked(chainID uint64, kind Kind, tx *matcher.Transaction) bool {
	key := treeKey{chainID, kind}
	st, found := a.trees[key]
	if !found {
		st = &treeState{tree: merkle.NewTree()}
		a.trees[key] = st
	}
	if tx.ID > st.maxID {
		st.maxID = tx.ID
	}
	grew := st.tree.Append(tx.Leaf().Hash())
	if grew {
		logger.WithFields(logger.Fields{
			"chainId": chainID,
			"kind":    kind.String(),
			"txId":    tx.ID,
			"hash":    common.Shorten(tx.Hash, 6),
		}).Debug("leaf appended")
	}
	return grew
}

func (a *Accumulator) maxSeenID(chainID uint64, kind Kind) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, found := a.trees[treeKey{chainID, kind}]
	if !found {
		return 0
	}
	return st.maxID
}
