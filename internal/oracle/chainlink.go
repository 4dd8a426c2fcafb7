package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const aggregatorV3ABI = `[
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse aggregator abi: %v", err))
	}
	return parsed
}

// ContractCaller is the subset of an Ethereum client needed for view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkFeed reads an AggregatorV3 price feed contract.
type ChainlinkFeed struct {
	caller  ContractCaller
	address common.Address
}

func NewChainlinkFeed(caller ContractCaller, address common.Address) *ChainlinkFeed {
	return &ChainlinkFeed{caller: caller, address: address}
}

// DialChainlinkFeed connects to rpcURL and binds the feed at address.
func DialChainlinkFeed(ctx context.Context, rpcURL string, address common.Address) (*ChainlinkFeed, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewChainlinkFeed(client, address), client, nil
}

func (f *ChainlinkFeed) LatestRoundData(ctx context.Context) (domain.PriceSample, error) {
	out, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return domain.PriceSample{}, err
	}
	if len(out) != 5 {
		return domain.PriceSample{}, fmt.Errorf("latestRoundData: unexpected %d outputs", len(out))
	}

	roundID, _ := out[0].(*big.Int)
	answer, _ := out[1].(*big.Int)
	startedAt, _ := out[2].(*big.Int)
	updatedAt, _ := out[3].(*big.Int)
	answeredInRound, _ := out[4].(*big.Int)
	if roundID == nil || answer == nil || startedAt == nil || updatedAt == nil || answeredInRound == nil {
		return domain.PriceSample{}, fmt.Errorf("latestRoundData: malformed response")
	}

	return domain.PriceSample{
		Price:           answer,
		RoundID:         roundID,
		AnsweredInRound: answeredInRound,
		StartedAt:       unixTime(startedAt),
		UpdatedAt:       unixTime(updatedAt),
	}, nil
}

// Decimals reports the feed's answer precision.
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	out, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals: unexpected %d outputs", len(out))
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: malformed response")
	}
	return d, nil
}

// VerifyDecimals fails unless the feed answers at the oracle precision the
// converter assumes.
func (f *ChainlinkFeed) VerifyDecimals(ctx context.Context) error {
	d, err := f.Decimals(ctx)
	if err != nil {
		return err
	}
	if d != domain.OracleDecimals {
		return fmt.Errorf("%w: feed reports %d decimals, expected %d", domain.ErrInvalidPrice, d, domain.OracleDecimals)
	}
	return nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	input, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := f.address
	data, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, f.address.Hex(), err)
	}

	out, err := aggregatorABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func unixTime(v *big.Int) time.Time {
	if v.Sign() == 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
