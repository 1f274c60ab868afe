package matcher

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/obridge/maker-go/amountcodec"
	"github.com/obridge/maker-go/database"
	"github.com/obridge/maker-go/market"
)

const (
	testMaker = "0x80c67432656d59144ceff962e8faf8926599bcf8"
	testUser  = "0x1111111111111111111111111111111111111111"
)

func testEngineRoutes(maxReceipt int64) []market.Route {
	return []market.Route{
		{
			RouteID: "1-2-USDT", MakerID: "maker-1", EbcID: 7,
			FromChainID: 1, FromSymbol: "USDT",
			ToChainID: 2, ToSymbol: "USDT",
			MakerSender: testMaker, MakerRecipient: testMaker,
			StartTime: 0, EndTime: 4_000_000_000,
			TradingFee: "0", GasFeePPM: 0, MaxReceiptTime: maxReceipt,
		},
	}
}

func newTestEngineEnv(t *testing.T, routes []market.Route, cfg *Config) (*Engine, func()) {
	sqlDB, err := database.OpenMemory()
	assert.NoError(t, err)
	store, err := NewStore(sqlDB)
	assert.NoError(t, err)
	mkt, err := market.NewMarket(routes)
	assert.NoError(t, err)
	return NewEngine(store, mkt, cfg), func() {
		store.Close()
		sqlDB.Close()
	}
}

// deposit of real amount 100000000000 on chain 1, tagged toChain=2.
func testDeposit(ts int64) *Transaction {
	tagged, _ := amountcodec.Tag(1, "100000000000", "0002")
	return &Transaction{
		ChainID: 1, Hash: "0xaa01", From: testUser, To: testMaker,
		Symbol: "USDT", Value: tagged, Nonce: 5, Timestamp: ts,
	}
}

// matching reply on chain 2: expected amount with the nonce echoed.
func testReply(ts int64) *Transaction {
	tagged, _ := amountcodec.Tag(2, "100000000000", amountcodec.NonceFlag(5))
	return &Transaction{
		ChainID: 2, Hash: "0xbb01", From: testMaker, To: testUser,
		Symbol: "USDT", Value: tagged, Nonce: 77, Timestamp: ts,
	}
}

func requireStatus(t *testing.T, e *Engine, chainID uint64, hash string, want Status) *Transaction {
	tx, err := e.Store().GetTransactionByHash(chainID, hash)
	assert.NoError(t, err)
	assert.Equal(t, want, tx.Status, "status of %s", hash)
	return tx
}

func TestDepositThenReplyMatched(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	dep := testDeposit(1_700_000_000)
	assert.NoError(t, e.Handle(ctx, dep))
	stored := requireStatus(t, e, 1, "0xaa01", StatusComplete)
	assert.Equal(t, SideUser, stored.Side)
	assert.Equal(t, "2", stored.Memo)

	// pairing exists with only the in side
	p, ok, err := e.Store().GetPairingByTxID(stored.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, p.Complete())
	assert.Equal(t, stored.ID, p.InID)

	// reply 30s later settles it
	assert.NoError(t, e.Handle(ctx, testReply(1_700_000_030)))
	requireStatus(t, e, 1, "0xaa01", StatusMatched)
	requireStatus(t, e, 2, "0xbb01", StatusMatched)

	p, ok, err = e.Store().GetPairingByTxID(stored.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, p.Complete())
}

func TestReplyThenDepositMatched(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	assert.NoError(t, e.Handle(ctx, testReply(1_700_000_030)))
	requireStatus(t, e, 2, "0xbb01", StatusComplete)

	assert.NoError(t, e.Handle(ctx, testDeposit(1_700_000_000)))
	requireStatus(t, e, 1, "0xaa01", StatusMatched)
	requireStatus(t, e, 2, "0xbb01", StatusMatched)
}

func TestRedeliveryIdempotent(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	// deliver the pair several times in mixed order
	for i := 0; i < 3; i++ {
		assert.NoError(t, e.Handle(ctx, testDeposit(1_700_000_000)))
		assert.NoError(t, e.Handle(ctx, testReply(1_700_000_030)))
		assert.NoError(t, e.Handle(ctx, testReply(1_700_000_030)))
		assert.NoError(t, e.Handle(ctx, testDeposit(1_700_000_000)))
	}

	dep := requireStatus(t, e, 1, "0xaa01", StatusMatched)
	rep := requireStatus(t, e, 2, "0xbb01", StatusMatched)

	// exactly one pairing row, both ids set
	p, ok, err := e.Store().GetPairingByTxID(dep.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, dep.ID, p.InID)
	assert.Equal(t, rep.ID, p.OutID)

	p2, ok, err := e.Store().GetPairing(p.TransferID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, p.InID, p2.InID)
	assert.Equal(t, p.OutID, p2.OutID)
}

func TestLateReplyClassified(t *testing.T) {
	// max receipt 10 minutes, reply 20 minutes late; the lookback is
	// widened so the pair is still found, only classified late.
	cfg := DefaultConfig()
	cfg.LookbackDefault = 30 * time.Minute
	cfg.ReplyLookback = 30 * time.Minute
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), cfg)
	defer teardown()
	ctx := context.Background()

	assert.NoError(t, e.Handle(ctx, testDeposit(1_700_000_000)))
	assert.NoError(t, e.Handle(ctx, testReply(1_700_001_200))) // +20m

	requireStatus(t, e, 1, "0xaa01", StatusMatchedLate)
	requireStatus(t, e, 2, "0xbb01", StatusMatchedLate)

	// redelivery must not downgrade the late classification
	assert.NoError(t, e.Handle(ctx, testDeposit(1_700_000_000)))
	requireStatus(t, e, 1, "0xaa01", StatusMatchedLate)
}

func TestLookbackExcludesReply(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	// reply lands past the 5-minute lookback: amount and route match,
	// but it must not pair
	assert.NoError(t, e.Handle(ctx, testReply(1_700_000_301)))
	assert.NoError(t, e.Handle(ctx, testDeposit(1_700_000_000)))

	requireStatus(t, e, 1, "0xaa01", StatusComplete)
	requireStatus(t, e, 2, "0xbb01", StatusComplete)
}

func TestNoRouteTerminal(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	// destination chain 3 is not served by any route
	tagged, _ := amountcodec.Tag(1, "100000000000", "0003")
	dep := &Transaction{
		ChainID: 1, Hash: "0xaa02", From: testUser, To: testMaker,
		Symbol: "USDT", Value: tagged, Nonce: 9, Timestamp: 1_700_000_000,
	}
	assert.NoError(t, e.Handle(ctx, dep))
	stored := requireStatus(t, e, 1, "0xaa02", StatusNoRoute)

	// no pairing was created
	_, ok, err := e.Store().GetPairingByTxID(stored.ID)
	assert.NoError(t, err)
	assert.False(t, ok)

	// terminal: redelivery does not resurrect it
	assert.NoError(t, e.Handle(ctx, dep))
	requireStatus(t, e, 1, "0xaa02", StatusNoRoute)
}

func TestUntaggedDepositNoRoute(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	// flag 0000 and no memo: destination cannot be determined
	dep := &Transaction{
		ChainID: 1, Hash: "0xaa03", From: testUser, To: testMaker,
		Symbol: "USDT", Value: "100000000000", Nonce: 9, Timestamp: 1_700_000_000,
	}
	assert.NoError(t, e.Handle(ctx, dep))
	requireStatus(t, e, 1, "0xaa03", StatusNoRoute)
}

func TestUnroutableLeftPending(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	tx := &Transaction{
		ChainID: 1, Hash: "0xcc01",
		From: "0x2222222222222222222222222222222222222222",
		To:   "0x3333333333333333333333333333333333333333",
		Symbol: "USDT", Value: "100000000000", Nonce: 1, Timestamp: 1_700_000_000,
	}
	assert.NoError(t, e.Handle(ctx, tx))
	requireStatus(t, e, 1, "0xcc01", StatusPending)
}

func TestMalformedRecordUntouched(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	// missing value: dropped without a row
	tx := &Transaction{ChainID: 1, Hash: "0xdd01", From: testUser, To: testMaker,
		Symbol: "USDT", Timestamp: 1_700_000_000}
	assert.NoError(t, e.Handle(ctx, tx))
	_, err := e.Store().GetTransactionByHash(1, "0xdd01")
	assert.ErrorIs(t, err, ErrTxNotFound)

	// zero nonce: its flag is the untagged sentinel, so the record is dropped too
	zero := testDeposit(1_700_000_000)
	zero.Hash = "0xdd02"
	zero.Nonce = 0
	assert.NoError(t, e.Handle(ctx, zero))
	_, err = e.Store().GetTransactionByHash(1, "0xdd02")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestOldestReplyWins(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	// two qualifying replies; the earlier one must win
	early := testReply(1_700_000_020)
	late := testReply(1_700_000_040)
	late.Hash = "0xbb02"
	assert.NoError(t, e.Handle(ctx, late))
	assert.NoError(t, e.Handle(ctx, early))
	assert.NoError(t, e.Handle(ctx, testDeposit(1_700_000_000)))

	requireStatus(t, e, 2, "0xbb01", StatusMatched)
	requireStatus(t, e, 2, "0xbb02", StatusComplete)

	dep, err := e.Store().GetTransactionByHash(1, "0xaa01")
	assert.NoError(t, err)
	earlyStored, err := e.Store().GetTransactionByHash(2, "0xbb01")
	assert.NoError(t, err)
	p, ok, err := e.Store().GetPairingByTxID(dep.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, earlyStored.ID, p.OutID)
}

func TestEqualTimestampRepliesPickLowestID(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()
	ctx := context.Background()

	// identical timestamps: the row inserted first carries the lower id and wins
	first := testReply(1_700_000_020)
	second := testReply(1_700_000_020)
	second.Hash = "0xbb02"
	second.Nonce = 78
	assert.NoError(t, e.Handle(ctx, first))
	assert.NoError(t, e.Handle(ctx, second))
	assert.NoError(t, e.Handle(ctx, testDeposit(1_700_000_000)))

	requireStatus(t, e, 2, "0xbb01", StatusMatched)
	requireStatus(t, e, 2, "0xbb02", StatusComplete)

	dep, err := e.Store().GetTransactionByHash(1, "0xaa01")
	assert.NoError(t, err)
	firstStored, err := e.Store().GetTransactionByHash(2, "0xbb01")
	assert.NoError(t, err)
	p, ok, err := e.Store().GetPairingByTxID(dep.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, firstStored.ID, p.OutID)
}

func starkNetRoutes(maxReceipt int64) []market.Route {
	return []market.Route{
		{
			RouteID: "1-4-USDT", MakerID: "maker-1", EbcID: 7,
			FromChainID: 1, FromSymbol: "USDT",
			ToChainID: 4, ToSymbol: "USDT",
			MakerSender: testMaker, MakerRecipient: testMaker,
			StartTime: 0, EndTime: 4_000_000_000,
			TradingFee: "0", GasFeePPM: 0, MaxReceiptTime: maxReceipt,
		},
	}
}

func starkNetDeposit(ts int64) *Transaction {
	tagged, _ := amountcodec.Tag(1, "100000000000", "0004")
	return &Transaction{
		ChainID: 1, Hash: "0xaa01", From: testUser, To: testMaker,
		Symbol: "USDT", Value: tagged, Nonce: 5, Timestamp: ts,
	}
}

func starkNetReply(ts int64) *Transaction {
	tagged, _ := amountcodec.Tag(4, "100000000000", amountcodec.NonceFlag(5))
	return &Transaction{
		ChainID: 4, Hash: "0xbb01", From: testMaker, To: testUser,
		Symbol: "USDT", Value: tagged, Nonce: 900, Timestamp: ts,
	}
}

func TestStarkNetDestinationUsesWideLookback(t *testing.T) {
	e, teardown := newTestEngineEnv(t, starkNetRoutes(7200), nil)
	defer teardown()
	ctx := context.Background()

	depTS := int64(1_700_000_000)
	// 100 minutes is far beyond the default window but inside the StarkNet one
	assert.NoError(t, e.Handle(ctx, starkNetReply(depTS+6000)))
	assert.NoError(t, e.Handle(ctx, starkNetDeposit(depTS)))

	requireStatus(t, e, 1, "0xaa01", StatusMatched)
	requireStatus(t, e, 4, "0xbb01", StatusMatched)
}

func TestStarkNetLookbackStillBounded(t *testing.T) {
	e, teardown := newTestEngineEnv(t, starkNetRoutes(7200), nil)
	defer teardown()
	ctx := context.Background()

	depTS := int64(1_700_000_000)
	// 121 minutes falls past even the StarkNet window
	assert.NoError(t, e.Handle(ctx, starkNetReply(depTS+7260)))
	assert.NoError(t, e.Handle(ctx, starkNetDeposit(depTS)))

	requireStatus(t, e, 1, "0xaa01", StatusComplete)
	requireStatus(t, e, 4, "0xbb01", StatusComplete)

	dep, err := e.Store().GetTransactionByHash(1, "0xaa01")
	assert.NoError(t, err)
	p, ok, err := e.Store().GetPairingByTxID(dep.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, p.OutID)
}

func TestBatchRecordErrorDoesNotAbort(t *testing.T) {
	e, teardown := newTestEngineEnv(t, testEngineRoutes(600), nil)
	defer teardown()

	batch := []*Transaction{
		{ChainID: 1, Hash: "0xee01", From: testUser, To: testMaker, Symbol: "USDT", Timestamp: 1}, // malformed
		testDeposit(1_700_000_000),
	}
	assert.NoError(t, e.HandleBatch(context.Background(), batch))
	requireStatus(t, e, 1, "0xaa01", StatusComplete)
}
