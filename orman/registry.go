// Package orman talks to the on-chain root registry ("Orman" contract).
// The accumulator publishes its Merkle roots here and challenges read
// them back, so the only surface we need is get/set per chain per tree.
package orman

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RootRegistry is what the accumulator depends on. Orman implements it
// against a live node, SimulatedRegistry implements it in memory.
type RootRegistry interface {
	UserTxTreeRoot(ctx context.Context, chainID uint64) (ethcommon.Hash, error)
	MakerTxTreeRoot(ctx context.Context, chainID uint64) (ethcommon.Hash, error)
	SetUserTxTreeRoot(ctx context.Context, chainID uint64, root ethcommon.Hash) error
	SetMakerTxTreeRoot(ctx context.Context, chainID uint64, root ethcommon.Hash) error
}

const registryABI = `[
	{"type":"function","name":"userTxTreeRoot","stateMutability":"view","inputs":[{"name":"chainId","type":"uint64"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"makerTxTreeRoot","stateMutability":"view","inputs":[{"name":"chainId","type":"uint64"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"setUserTxTreeRoot","stateMutability":"nonpayable","inputs":[{"name":"chainId","type":"uint64"},{"name":"root","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"setMakerTxTreeRoot","stateMutability":"nonpayable","inputs":[{"name":"chainId","type":"uint64"},{"name":"root","type":"bytes32"}],"outputs":[]}
]`

type Orman struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
}

func NewOrman(ctx context.Context, cfg *Config) (*Orman, error) {
	client, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, err
	}

	addr := ethcommon.HexToAddress(cfg.RegistryContractAddress)
	contract := bind.NewBoundContract(addr, parsed, client, client, client)

	sk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(sk, chainID)
	if err != nil {
		return nil, err
	}

	return &Orman{
		client:   client,
		contract: contract,
		auth:     auth,
	}, nil
}

func (o *Orman) UserTxTreeRoot(ctx context.Context, chainID uint64) (ethcommon.Hash, error) {
	return o.root(ctx, "userTxTreeRoot", chainID)
}

func (o *Orman) MakerTxTreeRoot(ctx context.Context, chainID uint64) (ethcommon.Hash, error) {
	return o.root(ctx, "makerTxTreeRoot", chainID)
}

func (o *Orman) SetUserTxTreeRoot(ctx context.Context, chainID uint64, root ethcommon.Hash) error {
	return o.setRoot(ctx, "setUserTxTreeRoot", chainID, root)
}

func (o *Orman) SetMakerTxTreeRoot(ctx context.Context, chainID uint64, root ethcommon.Hash) error {
	return o.setRoot(ctx, "setMakerTxTreeRoot", chainID, root)
}

func (o *Orman) root(ctx context.Context, method string, chainID uint64) (ethcommon.Hash, error) {
	var out []interface{}
	err := o.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, chainID)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	raw := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return ethcommon.Hash(raw), nil
}

func (o *Orman) setRoot(ctx context.Context, method string, chainID uint64, root ethcommon.Hash) error {
	opts := *o.auth
	opts.Context = ctx
	_, err := o.contract.Transact(&opts, method, chainID, [32]byte(root))
	return err
}
