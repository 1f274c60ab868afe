// The matching engine pairs user deposits with maker replies and
// drives the per-transaction status machine. Classification reads a
// route snapshot; the pairing write path is one database transaction,
// so a pairing either fully advances or is untouched and the transport
// redelivers.
package matcher

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/obridge/maker-go/amountcodec"
	"github.com/obridge/maker-go/market"
)

type Config struct {
	// LookbackDefault bounds how far after a deposit a reply may land
	// and still be paired. LookbackStarkNet absorbs L2 settlement delay
	// on StarkNet-class destination chains.
	LookbackDefault  time.Duration
	LookbackStarkNet time.Duration

	// ReplyLookback bounds the deposit search when the reply side is
	// processed first.
	ReplyLookback time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		LookbackDefault:  5 * time.Minute,
		LookbackStarkNet: 120 * time.Minute,
		ReplyLookback:    5 * time.Minute,
	}
}

type Engine struct {
	store  *Store
	market *market.Market
	cfg    *Config
}

func NewEngine(store *Store, mkt *market.Market, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{store: store, market: mkt, cfg: cfg}
}

func (e *Engine) Store() *Store {
	return e.store
}

// Classify decides which side of a bridge transfer the record is.
// MakerReply iff the sender is a maker's paying address; UserDeposit
// iff the recipient is a maker's deposit address; otherwise Unroutable.
func Classify(idx *market.Index, t *Transaction) Kind {
	if idx.IsMakerSender(t.From) {
		return KindMakerReply
	}
	if idx.IsMakerRecipient(t.To) {
		return KindUserDeposit
	}
	return KindUnroutable
}

// Handle processes one normalized transfer record end to end.
// Per-record failures (validation, routing, codec) settle the row in a
// terminal status and return nil; only infrastructure errors propagate
// so the transport redelivers the batch.
func (e *Engine) Handle(ctx context.Context, t *Transaction) error {
	newLogger := logger.WithFields(logger.Fields{
		"chain": t.ChainID,
		"hash":  t.Hash,
	})

	if err := t.Validate(); err != nil {
		newLogger.WithField("error", err).Error("dropping malformed transaction record")
		return nil
	}

	stored, err := e.store.InsertTransaction(t)
	if err != nil {
		return err
	}
	if stored.Status.Terminal() {
		return nil
	}

	handled, err := e.Reconcile(ctx, stored)
	if err != nil {
		return err
	}
	if handled {
		newLogger.Debug("pairing already complete, reconciled")
		return nil
	}

	idx, err := e.market.Snapshot()
	if err != nil {
		return err
	}

	switch Classify(idx, stored) {
	case KindUserDeposit:
		return e.ProcessUserDeposit(ctx, idx, stored)
	case KindMakerReply:
		return e.ProcessMakerReply(ctx, idx, stored)
	default:
		// Left pending; only external re-ingestion retries it.
		newLogger.Error("transaction matches no maker address, leaving pending")
		return nil
	}
}

// HandleBatch runs Handle over one transport batch. A record error
// never aborts the batch; an infrastructure error does, and the whole
// batch is redelivered.
func (e *Engine) HandleBatch(ctx context.Context, txs []*Transaction) error {
	for _, t := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Handle(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile short-circuits redelivery of an already-fully-matched
// pairing: both rows are forced into a matched terminal state and no
// further processing happens. Duplicate delivery is not an error.
func (e *Engine) Reconcile(ctx context.Context, t *Transaction) (bool, error) {
	p, ok, err := e.store.GetPairingByTxID(t.ID)
	if err != nil {
		return false, err
	}
	if !ok || !p.Complete() {
		return false, nil
	}
	// SetStatus is monotonic, so an already matched-late row keeps its
	// late classification.
	if err := e.store.SetStatus(p.InID, StatusMatched); err != nil {
		return false, err
	}
	if err := e.store.SetStatus(p.OutID, StatusMatched); err != nil {
		return false, err
	}
	return true, nil
}

// destinationChain resolves the deposit's destination from the memo or
// from the flag tagged into the amount. ok=false means the routing
// intent cannot be determined.
func destinationChain(t *Transaction) (uint64, bool) {
	if t.Memo != "" {
		if id, err := strconv.ParseUint(strings.TrimSpace(t.Memo), 10, 64); err == nil && id > 0 {
			return id, true
		}
	}
	_, flag, err := amountcodec.Untag(t.ChainID, t.Value)
	if err != nil || flag == amountcodec.NoTag {
		return 0, false
	}
	id, err := strconv.ParseUint(flag, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// ProcessUserDeposit validates routing for a deposit, computes the
// expected reply amount, and atomically links the reply if it already
// arrived. Route and codec failures are terminal (NoRoute); store
// failures roll everything back, leaving the deposit pending for the
// transport's redelivery.
func (e *Engine) ProcessUserDeposit(ctx context.Context, idx *market.Index, t *Transaction) error {
	newLogger := logger.WithFields(logger.Fields{
		"chain": t.ChainID,
		"hash":  t.Hash,
		"side":  "deposit",
	})

	toChain, ok := destinationChain(t)
	if !ok {
		newLogger.Error("cannot determine destination chain, marking no-route")
		return e.store.SetStatus(t.ID, StatusNoRoute)
	}

	route, ok := idx.FindRoute(t.ChainID, toChain, t.Symbol, t.TokenAddress, t.Timestamp)
	if !ok {
		newLogger.WithField("toChain", toChain).Error("no route covers deposit, marking no-route")
		return e.store.SetStatus(t.ID, StatusNoRoute)
	}

	// The flag region is routing metadata, not value owed: strip it
	// before the fee math.
	realAmount := t.Value
	if real, _, err := amountcodec.Untag(t.ChainID, t.Value); err == nil {
		realAmount = real
	}
	realBig, ok2 := newBig(realAmount)
	if !ok2 {
		return e.store.SetStatus(t.ID, StatusNoRoute)
	}

	expected := route.ExpectedReplyValue(realBig)
	if expected == nil {
		newLogger.Error("route fees exceed deposit value, marking no-route")
		return e.store.SetStatus(t.ID, StatusNoRoute)
	}

	// The reply must echo the deposit nonce in its amount tag.
	nonceFlag := amountcodec.NonceFlag(t.Nonce)
	expectedTagged, err := amountcodec.Tag(route.ToChainID, expected.Text(10), nonceFlag)
	if err != nil {
		newLogger.WithField("error", err).Error("cannot encode expected reply amount, marking no-route")
		return e.store.SetStatus(t.ID, StatusNoRoute)
	}

	replyAccount := t.ReplyAccount
	if replyAccount == "" {
		replyAccount = t.From
	}

	lookback := e.cfg.LookbackDefault
	if market.IsStarkNetClass(route.ToChainID) {
		lookback = e.cfg.LookbackStarkNet
	}

	transferID := TransferID(t.From, t.ChainID, t.Nonce, t.Symbol, t.Timestamp)

	return e.store.WithMatchTx(ctx, func(dbtx *sql.Tx) error {
		t.Status = StatusComplete
		t.Side = SideUser
		t.Memo = strconv.FormatUint(toChain, 10)
		t.ReplySender = route.MakerSender
		t.ReplyAccount = replyAccount
		t.RouteID = route.RouteID
		t.MakerID = route.MakerID
		t.EbcID = route.EbcID
		t.ExpectValue = expectedTagged
		t.Deadline = t.Timestamp + route.MaxReceiptTime
		if err := markProcessedTx(dbtx, t); err != nil {
			return err
		}

		candidates, err := candidatesTx(dbtx, route.ToChainID, route.MakerSender, replyAccount,
			route.ToSymbol, StatusComplete, SideMaker,
			t.Timestamp, t.Timestamp+int64(lookback.Seconds()))
		if err != nil {
			return err
		}

		// Oldest qualifying reply wins so a single deposit can never be
		// spent against two replies.
		expectedBig, _ := newBig(expectedTagged)
		var reply *Transaction
		for _, c := range candidates {
			if c.Memo != nonceFlag {
				continue
			}
			v := c.ValueBig()
			if v == nil || v.Cmp(expectedBig) != 0 {
				continue
			}
			reply = c
			break
		}

		pairing := &Pairing{
			TransferID:   transferID,
			InID:         t.ID,
			FromChainID:  t.ChainID,
			ToChainID:    route.ToChainID,
			ToAmount:     expectedTagged,
			ReplySender:  route.MakerSender,
			ReplyAccount: replyAccount,
		}

		if reply != nil {
			status := StatusMatched
			if reply.Timestamp-t.Timestamp > route.MaxReceiptTime {
				status = StatusMatchedLate
			}
			if err := setStatusTx(dbtx, t.ID, status); err != nil {
				return err
			}
			if err := setStatusTx(dbtx, reply.ID, status); err != nil {
				return err
			}
			pairing.OutID = reply.ID
			newLogger.WithFields(logger.Fields{
				"replyHash": reply.Hash,
				"status":    status.String(),
			}).Info("deposit paired with reply")
		}

		return upsertPairingTx(dbtx, pairing)
	})
}

// ProcessMakerReply is the symmetric path: record the reply, then look
// back for the deposit it settles. The deposit's recorded value must be
// strictly less than the reply value; this intentionally differs from
// the deposit side's exact expected-amount comparison.
func (e *Engine) ProcessMakerReply(ctx context.Context, idx *market.Index, t *Transaction) error {
	newLogger := logger.WithFields(logger.Fields{
		"chain": t.ChainID,
		"hash":  t.Hash,
		"side":  "reply",
	})

	// The reply must come out of a route this maker serves on this chain.
	var route *market.Route
	for _, r := range idx.RoutesBySender(t.From) {
		if r.ToChainID == t.ChainID && strings.EqualFold(r.ToSymbol, t.Symbol) {
			route = r
			break
		}
	}
	if route == nil {
		newLogger.Error("no route serves reply, marking no-route")
		return e.store.SetStatus(t.ID, StatusNoRoute)
	}

	// Nonce echo carried in the amount tag (or pre-decoded memo).
	nonceFlag := t.Memo
	if len(nonceFlag) != amountcodec.FlagWidth || !isDigits(nonceFlag) {
		_, flag, err := amountcodec.Untag(t.ChainID, t.Value)
		if err != nil {
			newLogger.WithField("error", err).Error("cannot decode reply amount tag, rejecting")
			return e.store.SetStatus(t.ID, StatusRejected)
		}
		nonceFlag = flag
	}

	replyValue := t.ValueBig()
	lookback := int64(e.cfg.ReplyLookback.Seconds())

	return e.store.WithMatchTx(ctx, func(dbtx *sql.Tx) error {
		t.Status = StatusComplete
		t.Side = SideMaker
		t.Memo = nonceFlag
		t.ReplySender = t.From
		t.ReplyAccount = t.To
		t.RouteID = route.RouteID
		t.MakerID = route.MakerID
		t.EbcID = route.EbcID
		t.ExpectValue = t.Value
		if err := markProcessedTx(dbtx, t); err != nil {
			return err
		}

		deposits, err := depositCandidatesTx(dbtx, t.From, t.To,
			strconv.FormatUint(t.ChainID, 10), t.Symbol,
			t.Timestamp-lookback, t.Timestamp)
		if err != nil {
			return err
		}

		var deposit *Transaction
		for _, d := range deposits {
			if amountcodec.NonceFlag(d.Nonce) != nonceFlag {
				continue
			}
			dv := d.ValueBig()
			// The recorded deposit amount must be strictly below the
			// reply value on this side.
			if dv == nil || replyValue == nil || dv.Cmp(replyValue) >= 0 {
				continue
			}
			deposit = d
			break
		}

		if deposit == nil {
			// No deposit yet; the reply waits as complete and the
			// deposit side links it when it arrives.
			return nil
		}

		maxReceipt := route.MaxReceiptTime
		if dr, ok := idx.RouteByID(deposit.RouteID); ok {
			maxReceipt = dr.MaxReceiptTime
		}

		status := StatusMatched
		if t.Timestamp-deposit.Timestamp > maxReceipt {
			status = StatusMatchedLate
		}
		if err := setStatusTx(dbtx, deposit.ID, status); err != nil {
			return err
		}
		if err := setStatusTx(dbtx, t.ID, status); err != nil {
			return err
		}

		newLogger.WithFields(logger.Fields{
			"depositHash": deposit.Hash,
			"status":      status.String(),
		}).Info("reply paired with deposit")

		return upsertPairingTx(dbtx, &Pairing{
			TransferID: TransferID(deposit.From, deposit.ChainID, deposit.Nonce,
				deposit.Symbol, deposit.Timestamp),
			InID:         deposit.ID,
			OutID:        t.ID,
			FromChainID:  deposit.ChainID,
			ToChainID:    t.ChainID,
			ToAmount:     deposit.ExpectValue,
			ReplySender:  t.From,
			ReplyAccount: t.To,
		})
	})
}
