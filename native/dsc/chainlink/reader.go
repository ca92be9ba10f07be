// Package chainlink reads AggregatorV3 price feeds from an EVM node.
package chainlink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"stablecore/native/dsc"
)

const aggregatorV3ABI = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[
 {"internalType":"uint80","name":"roundId","type":"uint80"},
 {"internalType":"int256","name":"answer","type":"int256"},
 {"internalType":"uint256","name":"startedAt","type":"uint256"},
 {"internalType":"uint256","name":"updatedAt","type":"uint256"},
 {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chainlink: parse aggregator abi: %v", err))
	}
	return parsed
}

// Dial connects to the EVM endpoint serving the feeds.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chainlink: rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Reader implements dsc.PriceSource over AggregatorV3 contracts. Feed
// decimals are read once and cached.
type Reader struct {
	client ethereum.ContractCaller

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewReader constructs a reader from a contract caller such as
// *ethclient.Client.
func NewReader(client ethereum.ContractCaller) *Reader {
	return &Reader{client: client, decimals: make(map[common.Address]uint8)}
}

func (r *Reader) call(ctx context.Context, feed common.Address, method string) ([]interface{}, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainlink: call %s on %s: %w", method, feed.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no code", dsc.ErrFeedNotFound, feed.Hex())
	}
	values, err := aggregatorABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chainlink: decode %s from %s: %w", method, feed.Hex(), err)
	}
	return values, nil
}

// Decimals returns the answer precision of feed.
func (r *Reader) Decimals(ctx context.Context, feed common.Address) (uint8, error) {
	r.mu.RLock()
	cached, ok := r.decimals[feed]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}
	values, err := r.call(ctx, feed, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chainlink: unexpected decimals type %T", values[0])
	}
	r.mu.Lock()
	r.decimals[feed] = decimals
	r.mu.Unlock()
	return decimals, nil
}

// LatestPrice implements dsc.PriceSource.
func (r *Reader) LatestPrice(ctx context.Context, feed common.Address) (dsc.PriceRound, error) {
	if r == nil || r.client == nil {
		return dsc.PriceRound{}, errors.New("chainlink: reader not initialised")
	}
	decimals, err := r.Decimals(ctx, feed)
	if err != nil {
		return dsc.PriceRound{}, err
	}
	values, err := r.call(ctx, feed, "latestRoundData")
	if err != nil {
		return dsc.PriceRound{}, err
	}
	if len(values) != 5 {
		return dsc.PriceRound{}, fmt.Errorf("chainlink: latestRoundData returned %d values", len(values))
	}
	ints := make([]*big.Int, len(values))
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return dsc.PriceRound{}, fmt.Errorf("chainlink: unexpected latestRoundData field %d type %T", i, v)
		}
		ints[i] = n
	}
	return dsc.PriceRound{
		RoundID:         ints[0],
		Answer:          ints[1],
		Decimals:        decimals,
		StartedAt:       unixTime(ints[2]),
		UpdatedAt:       unixTime(ints[3]),
		AnsweredInRound: ints[4],
	}, nil
}

func unixTime(seconds *big.Int) time.Time {
	if seconds == nil || seconds.Sign() <= 0 || !seconds.IsInt64() {
		return time.Time{}
	}
	return time.Unix(seconds.Int64(), 0).UTC()
}
