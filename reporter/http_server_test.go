package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obridge/maker-go/accumulator"
	"github.com/obridge/maker-go/amountcodec"
	"github.com/obridge/maker-go/database"
	"github.com/obridge/maker-go/market"
	"github.com/obridge/maker-go/matcher"
	"github.com/obridge/maker-go/orman"
)

const (
	repMaker = "0x80c67432656d59144ceff962e8faf8926599bcf8"
	repUser  = "0x3333333333333333333333333333333333333333"
)

type repEnv struct {
	engine   *matcher.Engine
	acc      *accumulator.Accumulator
	router   *gin.Engine
	teardown func()
}

func newRepEnv(t *testing.T) *repEnv {
	gin.SetMode(gin.TestMode)

	sqlDB, err := database.OpenMemory()
	require.NoError(t, err)
	store, err := matcher.NewStore(sqlDB)
	require.NoError(t, err)

	routes := []market.Route{
		{
			RouteID: "1-2-USDT", MakerID: "maker-1", EbcID: 7,
			FromChainID: 1, FromSymbol: "USDT",
			ToChainID: 2, ToSymbol: "USDT",
			MakerSender: repMaker, MakerRecipient: repMaker,
			StartTime: 0, EndTime: 4_000_000_000,
			TradingFee: "0", GasFeePPM: 0, MaxReceiptTime: 300,
		},
	}
	mkt, err := market.NewMarket(routes)
	require.NoError(t, err)

	mcfg := matcher.DefaultConfig()
	mcfg.LookbackDefault = 3 * time.Hour
	mcfg.ReplyLookback = 3 * time.Hour
	engine := matcher.NewEngine(store, mkt, mcfg)

	acc := accumulator.New(store, mkt, orman.NewSimulatedRegistry(), accumulator.DefaultConfig())
	rep := NewHttpReporter("127.0.0.1", "0", store, acc)

	return &repEnv{
		engine:   engine,
		acc:      acc,
		router:   rep.SetupRouter(),
		teardown: func() {
			store.Close()
			sqlDB.Close()
		},
	}
}

func (env *repEnv) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	env.router.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func repDeposit(hash string, nonce uint64, ts int64) *matcher.Transaction {
	tagged, _ := amountcodec.Tag(1, "100000000000", "0002")
	return &matcher.Transaction{
		ChainID: 1, Hash: hash, From: repUser, To: repMaker,
		Symbol: "USDT", Value: tagged, Nonce: nonce, Timestamp: ts,
	}
}

func TestHealthRoute(t *testing.T) {
	env := newRepEnv(t)
	defer env.teardown()

	w, body := env.get(t, ROUTE_HEALTH)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestTransfersFilterByAddress(t *testing.T) {
	env := newRepEnv(t)
	defer env.teardown()
	ctx := context.Background()

	ts := time.Now().Unix() - 60
	require.NoError(t, env.engine.Handle(ctx, repDeposit("0xaa01", 5, ts)))
	require.NoError(t, env.engine.Handle(ctx, repDeposit("0xaa02", 6, ts+1)))

	w, body := env.get(t, ROUTE_TRANSFERS+"?address="+repUser)
	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].([]interface{})
	assert.Len(t, data, 2)

	w, body = env.get(t, ROUTE_TRANSFERS+"?address=0x9999999999999999999999999999999999999999")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["data"])
}

func TestTransfersRejectsBadDirection(t *testing.T) {
	env := newRepEnv(t)
	defer env.teardown()

	w, _ := env.get(t, ROUTE_TRANSFERS+"?direction=sideways")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransfersFilterByDirectionAndStatus(t *testing.T) {
	env := newRepEnv(t)
	defer env.teardown()
	ctx := context.Background()

	ts := time.Now().Unix() - 60
	require.NoError(t, env.engine.Handle(ctx, repDeposit("0xaa01", 5, ts)))

	w, body := env.get(t, ROUTE_TRANSFERS+"?direction=user&status=1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"].([]interface{}), 1)

	w, body = env.get(t, ROUTE_TRANSFERS+"?direction=maker")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["data"])
}

func TestProofFoundAfterRebuild(t *testing.T) {
	env := newRepEnv(t)
	defer env.teardown()
	ctx := context.Background()

	// overdue unanswered deposit enters the user tree
	ts := time.Now().Unix() - 3600
	require.NoError(t, env.engine.Handle(ctx, repDeposit("0xaa01", 5, ts)))
	require.NoError(t, env.acc.Rebuild(ctx))

	w, body := env.get(t, ROUTE_PROOF+"?chain_id=1&kind=user&hash=0xaa01")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["root"])
	assert.NotEmpty(t, body["leaf"])
}

func TestProofAbsenceIsNotFoundNeverServerError(t *testing.T) {
	env := newRepEnv(t)
	defer env.teardown()
	ctx := context.Background()

	// unknown row
	w, body := env.get(t, ROUTE_PROOF+"?chain_id=1&kind=user&hash=0xdead")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "non-existent", body["error"])

	// known row not yet folded into a tree
	ts := time.Now().Unix() - 60
	require.NoError(t, env.engine.Handle(ctx, repDeposit("0xaa01", 5, ts)))
	w, body = env.get(t, ROUTE_PROOF+"?chain_id=1&kind=user&hash=0xaa01")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "non-existent", body["error"])
}

func TestProofRejectsBadParams(t *testing.T) {
	env := newRepEnv(t)
	defer env.teardown()

	w, _ := env.get(t, ROUTE_PROOF)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.get(t, ROUTE_PROOF+"?chain_id=1&kind=upside&hash=0xaa01")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.get(t, ROUTE_PROOF+"?chain_id=1&kind=user")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
