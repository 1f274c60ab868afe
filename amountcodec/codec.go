// Package amountcodec embeds a fixed-width routing flag inside the
// decimal digits of a token amount, and recovers it later. A downstream
// chain observer can read the destination chain (or nonce echo) straight
// off the transferred value without an out-of-band side channel.
package amountcodec

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/obridge/maker-go/common"
)

// FlagWidth is the number of decimal digits the embedded flag occupies.
const FlagWidth = 4

// NoTag is the flag value that marks a well-formed untagged amount.
const NoTag = "0000"

var (
	ErrChainUnsupported = errors.New("chain is not in the codec registry")
	ErrAmountTooSmall   = errors.New("amount has too few digits to carry a flag")
	ErrAmountOutOfRange = errors.New("amount exceeds the chain's representable range")
	ErrFlagTooWide      = errors.New("flag does not fit in the flag width")
)

// NormalizeFlag left-pads a 1..4 digit decimal flag to FlagWidth.
func NormalizeFlag(flag string) (string, error) {
	if len(flag) == 0 || len(flag) > FlagWidth || !common.IsDecimalString(flag) {
		return "", ErrFlagTooWide
	}
	return strings.Repeat("0", FlagWidth-len(flag)) + flag, nil
}

// NonceFlag folds a transaction nonce into the flag space. The modulus
// keeps nonce flags out of the range used for chain indicators.
func NonceFlag(nonce uint64) string {
	return fmt.Sprintf("%04d", nonce%9000)
}

// ValidDigitCount returns how many leading digits of amount fall within
// the chain's representable range (2^bits - 1). Comparison is numeric
// on big integers, never on string length or lexicographic order.
func ValidDigitCount(chainID uint64, amount string) (int, error) {
	p, ok := chainParams(chainID)
	if !ok {
		return 0, ErrChainUnsupported
	}
	if !common.IsDecimalString(amount) {
		return 0, ErrAmountOutOfRange
	}

	if len(amount) < p.maxDigits {
		return len(amount), nil
	}

	prefix, _ := new(big.Int).SetString(amount[:p.maxDigits], 10)
	if prefix.Cmp(p.maxValue) <= 0 {
		return p.maxDigits, nil
	}
	return p.maxDigits - 1, nil
}

// Tag replaces digits of realAmount with the flag.
//
// Limited-digit chains: the flag replaces the last FlagWidth digits of
// the amount's maximum valid-digit prefix; digits beyond the prefix are
// preserved. All other chains: the flag replaces the literal last
// FlagWidth characters of the amount.
//
// The digits being replaced are lost; callers keep them zero ("0000")
// so that Untag(Tag(a, f)) round-trips to (a, f).
func Tag(chainID uint64, realAmount string, flag string) (string, error) {
	p, ok := chainParams(chainID)
	if !ok {
		return "", ErrChainUnsupported
	}
	if !common.IsDecimalString(realAmount) {
		return "", ErrAmountOutOfRange
	}
	f, err := NormalizeFlag(flag)
	if err != nil {
		return "", err
	}

	if !p.Limited {
		if len(realAmount) < FlagWidth+1 {
			return "", ErrAmountTooSmall
		}
		v, _ := new(big.Int).SetString(realAmount, 10)
		if v.Cmp(p.maxValue) > 0 {
			return "", ErrAmountOutOfRange
		}
		return realAmount[:len(realAmount)-FlagWidth] + f, nil
	}

	n, err := ValidDigitCount(chainID, realAmount)
	if err != nil {
		return "", err
	}
	if n < FlagWidth+1 {
		return "", ErrAmountTooSmall
	}
	tagged := realAmount[:n-FlagWidth] + f + realAmount[n:]

	// The substitution must not push the valid prefix past the chain
	// maximum, or Untag would locate the flag at a different offset.
	if m, _ := ValidDigitCount(chainID, tagged); m != n {
		return "", ErrAmountOutOfRange
	}
	return tagged, nil
}

// Untag is the inverse of Tag: it extracts the flag and returns the
// real amount with the flag region zeroed. A flag of NoTag ("0000") is
// a valid outcome meaning the amount carries no routing intent.
func Untag(chainID uint64, taggedAmount string) (string, string, error) {
	p, ok := chainParams(chainID)
	if !ok {
		return "", "", ErrChainUnsupported
	}
	if !common.IsDecimalString(taggedAmount) {
		return "", "", ErrAmountOutOfRange
	}

	if !p.Limited {
		if len(taggedAmount) < FlagWidth+1 {
			return "", "", ErrAmountTooSmall
		}
		v, _ := new(big.Int).SetString(taggedAmount, 10)
		if v.Cmp(p.maxValue) > 0 {
			return "", "", ErrAmountOutOfRange
		}
		cut := len(taggedAmount) - FlagWidth
		return taggedAmount[:cut] + NoTag, taggedAmount[cut:], nil
	}

	n, err := ValidDigitCount(chainID, taggedAmount)
	if err != nil {
		return "", "", err
	}
	if n < FlagWidth+1 {
		return "", "", ErrAmountTooSmall
	}
	real := taggedAmount[:n-FlagWidth] + NoTag + taggedAmount[n:]
	return real, taggedAmount[n-FlagWidth : n], nil
}
