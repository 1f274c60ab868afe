package matcher

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/obridge/maker-go/merkle"
)

// Status is the lifecycle state of an observed transfer.
// Pending -> Complete -> {Matched, MatchedLate}; Rejected, NoRoute,
// Refund and TimerMismatch are side branches. Matched, MatchedLate,
// Rejected, NoRoute and Refund are terminal.
type Status int

const (
	StatusPending       Status = 0
	StatusComplete      Status = 1
	StatusRejected      Status = 2
	StatusNoRoute       Status = 3
	StatusRefund        Status = 4
	StatusTimerMismatch Status = 5
	StatusMatchedLate   Status = 98
	StatusMatched       Status = 99
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusMatched, StatusMatchedLate, StatusRejected, StatusNoRoute, StatusRefund:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusRejected:
		return "rejected"
	case StatusNoRoute:
		return "no_route"
	case StatusRefund:
		return "refund"
	case StatusTimerMismatch:
		return "timer_mismatch"
	case StatusMatchedLate:
		return "matched_late"
	case StatusMatched:
		return "matched"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Side tells which party originated the transfer.
type Side int

const (
	SideUser  Side = 0
	SideMaker Side = 1
)

// Kind is the classification result for one transfer.
type Kind int

const (
	KindUnroutable Kind = iota
	KindUserDeposit
	KindMakerReply
)

var (
	ErrMissingParameter = errors.New("transaction is missing a required field")
	ErrTxNotFound       = errors.New("transaction not found")
)

// Transaction is one observed on-chain transfer, normalized by the
// chain-scanning collaborator. (chainId, hash) is unique; the row is
// the audit trail and is never deleted.
type Transaction struct {
	ID           int64  `json:"id"`
	ChainID      uint64 `json:"chainId"`
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Symbol       string `json:"symbol"`
	TokenAddress string `json:"tokenAddress"`
	Value        string `json:"value"` // decimal string, arbitrary precision
	Nonce        uint64 `json:"nonce"`
	Timestamp    int64  `json:"timestamp"` // unix seconds
	Status       Status `json:"status"`
	Side         Side   `json:"side"`
	Memo         string `json:"memo"` // decoded flag: toChain on deposits, nonce echo on replies
	ReplySender  string `json:"replySender"`
	ReplyAccount string `json:"replyAccount"`
	RouteID      string `json:"routeId"`
	MakerID      string `json:"makerId"`
	EbcID        uint64 `json:"ebcId"`
	ExpectValue  string `json:"expectValue"` // expected reply amount (deposits) / own value (replies)
	Deadline     int64  `json:"deadline"`    // timestamp + route max receipt time, deposits only
	Extra        string `json:"extra"`       // free-form decoded payload
}

// ValueBig parses Value; nil if not a valid decimal.
func (t *Transaction) ValueBig() *big.Int {
	v, ok := new(big.Int).SetString(t.Value, 10)
	if !ok {
		return nil
	}
	return v
}

// Validate checks the fields matching requires. Missing fields are a
// validation error: the row is left untouched, never guessed at.
func (t *Transaction) Validate() error {
	if t.From == "" || t.To == "" || t.Value == "" || t.Symbol == "" || t.Hash == "" {
		return ErrMissingParameter
	}
	// a zero nonce flags as the untagged sentinel and can never pair
	if t.ChainID == 0 || t.Timestamp <= 0 || t.Nonce == 0 {
		return ErrMissingParameter
	}
	if v := t.ValueBig(); v == nil || v.Sign() < 0 {
		return ErrMissingParameter
	}
	return nil
}

func newBig(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}

func isDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Pairing is the eventually-1:1 link between a deposit and its reply.
// The transfer id is deterministic so repeated matching attempts hit
// the same row (upsert key).
type Pairing struct {
	TransferID   string `json:"transferId"`
	InID         int64  `json:"inId"`  // deposit tx row, 0 = unset
	OutID        int64  `json:"outId"` // reply tx row, 0 = unset
	FromChainID  uint64 `json:"fromChainId"`
	ToChainID    uint64 `json:"toChainId"`
	ToAmount     string `json:"toAmount"`
	ReplySender  string `json:"replySender"`
	ReplyAccount string `json:"replyAccount"`
}

// Complete reports whether both sides are linked.
func (p *Pairing) Complete() bool {
	return p.InID != 0 && p.OutID != 0
}

// TransferID derives the pairing key from the deposit's identity.
// Same deposit, same id, no matter how many times it is redelivered.
func TransferID(depositor string, fromChainID uint64, nonce uint64, symbol string, timestamp int64) string {
	preimage := fmt.Sprintf("%s:%d:%d:%s:%d",
		strings.ToLower(depositor), fromChainID, nonce, strings.ToUpper(symbol), timestamp)
	return strings.TrimPrefix(crypto.Keccak256Hash([]byte(preimage)).Hex(), "0x")
}

// Leaf collects the row's Merkle leaf fields. ExpectValue falls back
// to the row's own value when no expectation was recorded.
func (t *Transaction) Leaf() *merkle.Leaf {
	expect := t.ExpectValue
	if expect == "" {
		expect = t.Value
	}
	ev, ok := new(big.Int).SetString(expect, 10)
	if !ok {
		ev = new(big.Int)
	}
	v := t.ValueBig()
	if v == nil {
		v = new(big.Int)
	}
	return &merkle.Leaf{
		ChainID:     t.ChainID,
		TxHash:      ethcommon.HexToHash(t.Hash),
		From:        strings.ToLower(t.From),
		To:          strings.ToLower(t.To),
		Nonce:       t.Nonce,
		Value:       v,
		Token:       strings.ToLower(t.TokenAddress),
		Timestamp:   t.Timestamp,
		ExpectValue: ev,
		EbcID:       t.EbcID,
	}
}
