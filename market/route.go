package market

import (
	"math/big"
	"strings"
)

// Route is one directed trading pair a maker services. A->B and B->A
// are separate entries. The time window is a closed interval in unix
// seconds.
type Route struct {
	RouteID string `json:"routeId"`
	MakerID string `json:"makerId"`
	EbcID   uint64 `json:"ebcId"`

	FromChainID uint64 `json:"fromChainId"`
	FromToken   string `json:"fromToken"`
	FromSymbol  string `json:"fromSymbol"`

	ToChainID uint64 `json:"toChainId"`
	ToToken   string `json:"toToken"`
	ToSymbol  string `json:"toSymbol"`

	// MakerRecipient receives user deposits on the origin chain;
	// MakerSender pays replies on the destination chain.
	MakerSender    string `json:"makerSender"`
	MakerRecipient string `json:"makerRecipient"`

	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`

	// Pool-level codec parameters.
	Precision  int    `json:"precision"`
	TradingFee string `json:"tradingFee"` // flat fee, smallest units
	GasFeePPM  uint64 `json:"gasFeePpm"`  // proportional fee, parts per million

	// MaxReceiptTime is the seconds a maker has to reply before the
	// pairing is classified late.
	MaxReceiptTime int64 `json:"maxReceiptTime"`
}

// InWindow reports whether ts falls inside the route's active window.
func (r *Route) InWindow(ts int64) bool {
	return ts >= r.StartTime && ts <= r.EndTime
}

// ExpectedReplyValue computes the settlement value owed for a deposit
// of the given value: flat trading fee plus proportional gas fee come
// off the top. Returns nil when the fees exceed the deposit.
func (r *Route) ExpectedReplyValue(depositValue *big.Int) *big.Int {
	out := new(big.Int).Set(depositValue)

	if r.TradingFee != "" {
		fee, ok := new(big.Int).SetString(r.TradingFee, 10)
		if !ok {
			return nil
		}
		out.Sub(out, fee)
	}

	if r.GasFeePPM > 0 {
		gas := new(big.Int).Mul(depositValue, new(big.Int).SetUint64(r.GasFeePPM))
		gas.Div(gas, big.NewInt(1_000_000))
		out.Sub(out, gas)
	}

	if out.Sign() <= 0 {
		return nil
	}
	return out
}

func normalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// starkNetClass holds the chains whose settlement lags L1 enough to
// need the extended matching lookback.
var starkNetClass = map[uint64]bool{
	4:  true,
	44: true,
}

// IsStarkNetClass reports whether the chain settles with L2-style delay.
func IsStarkNetClass(chainID uint64) bool {
	return starkNetClass[chainID]
}
