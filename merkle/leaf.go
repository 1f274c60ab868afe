package merkle

import (
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Leaf is the set of values one tree leaf commits to. Address and
// token fields are free strings (chains outside the EVM family carry
// longer addresses), hashed rather than packed.
type Leaf struct {
	ChainID     uint64
	TxHash      ethcommon.Hash
	From        string
	To          string
	Nonce       uint64
	Value       *big.Int
	Token       string
	Timestamp   int64
	ExpectValue *big.Int
	EbcID       uint64
}

// Hash computes the leaf commitment: every field padded or hashed to
// 32 bytes, concatenated in declaration order, then keccak256.
func (l *Leaf) Hash() ethcommon.Hash {
	buf := make([]byte, 0, 10*32)
	buf = append(buf, pad64(l.ChainID)...)
	buf = append(buf, l.TxHash.Bytes()...)
	buf = append(buf, hashString(l.From)...)
	buf = append(buf, hashString(l.To)...)
	buf = append(buf, pad64(l.Nonce)...)
	buf = append(buf, padBig(l.Value)...)
	buf = append(buf, hashString(l.Token)...)
	buf = append(buf, pad64(uint64(l.Timestamp))...)
	buf = append(buf, padBig(l.ExpectValue)...)
	buf = append(buf, pad64(l.EbcID)...)
	return crypto.Keccak256Hash(buf)
}

func pad64(v uint64) []byte {
	return ethcommon.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func padBig(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return ethcommon.LeftPadBytes(v.Bytes(), 32)
}

func hashString(s string) []byte {
	return crypto.Keccak256([]byte(strings.ToLower(s)))
}
