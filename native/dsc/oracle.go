package dsc

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceRound is a single answer reported by a price feed. Answer is expressed
// with Decimals decimals (8 for Chainlink USD pairs).
type PriceRound struct {
	RoundID         *big.Int
	Answer          *big.Int
	Decimals        uint8
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound *big.Int
}

// Clone returns a deep copy of the round.
func (r PriceRound) Clone() PriceRound {
	clone := r
	if r.RoundID != nil {
		clone.RoundID = new(big.Int).Set(r.RoundID)
	}
	if r.Answer != nil {
		clone.Answer = new(big.Int).Set(r.Answer)
	}
	if r.AnsweredInRound != nil {
		clone.AnsweredInRound = new(big.Int).Set(r.AnsweredInRound)
	}
	return clone
}

// PriceSource resolves the latest answer of a price feed. It is called with
// the engine's operation lock held and must not call back into the engine
// with a context other than ctx.
type PriceSource interface {
	LatestPrice(ctx context.Context, feed common.Address) (PriceRound, error)
}

// priceAdapter validates feed answers and normalises them to 18 decimals.
type priceAdapter struct {
	source PriceSource
	maxAge time.Duration
	now    func() time.Time
}

func (a *priceAdapter) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

// usdPrice returns the USD price of one whole unit of the feed's asset with 18
// decimals. Stale rounds and non-positive answers are rejected.
func (a *priceAdapter) usdPrice(ctx context.Context, feed common.Address) (*big.Int, error) {
	round, err := a.source.LatestPrice(ctx, feed)
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", feed.Hex(), err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s answered %v", ErrInvalidPrice, feed.Hex(), round.Answer)
	}
	if round.UpdatedAt.IsZero() {
		return nil, fmt.Errorf("%w: feed %s has no update time", ErrStalePrice, feed.Hex())
	}
	if round.RoundID != nil && round.AnsweredInRound != nil && round.AnsweredInRound.Cmp(round.RoundID) < 0 {
		return nil, fmt.Errorf("%w: feed %s answered in round %s before %s", ErrStalePrice, feed.Hex(), round.AnsweredInRound, round.RoundID)
	}
	if a.maxAge > 0 {
		if age := a.clock().Sub(round.UpdatedAt); age > a.maxAge {
			return nil, fmt.Errorf("%w: feed %s is %s old", ErrStalePrice, feed.Hex(), age.Truncate(time.Second))
		}
	}
	price := normalisePrice(round.Answer, round.Decimals)
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s answer vanishes at %d decimals", ErrInvalidPrice, feed.Hex(), round.Decimals)
	}
	return price, nil
}

// normalisePrice scales answer from decimals to 18 decimals.
func normalisePrice(answer *big.Int, decimals uint8) *big.Int {
	switch {
	case decimals == usdDecimals:
		return new(big.Int).Set(answer)
	case decimals < usdDecimals:
		return new(big.Int).Mul(answer, pow10(usdDecimals-decimals))
	default:
		return new(big.Int).Quo(answer, pow10(decimals-usdDecimals))
	}
}

// usdValue converts amount of an asset priced at price (18 decimals) to USD
// with 18 decimals.
func usdValue(price, amount *big.Int) *big.Int {
	value := new(big.Int).Mul(price, amount)
	return value.Quo(value, precision)
}

// tokenAmountFromUsd converts a USD amount (18 decimals) to asset units at
// price (18 decimals). Rounds down.
func tokenAmountFromUsd(price, usd *big.Int) *big.Int {
	amount := new(big.Int).Mul(usd, precision)
	return amount.Quo(amount, price)
}

// ManualFeed is an in-memory PriceSource used for tests, local deployments
// and manual overrides during incident response.
type ManualFeed struct {
	mu     sync.RWMutex
	rounds map[common.Address]PriceRound
}

// NewManualFeed constructs an empty manual feed set.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{rounds: make(map[common.Address]PriceRound)}
}

// SetPrice records a new round for feed, advancing its round identifier.
func (m *ManualFeed) SetPrice(feed common.Address, answer *big.Int, decimals uint8, updatedAt time.Time) {
	if m == nil || answer == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rounds == nil {
		m.rounds = make(map[common.Address]PriceRound)
	}
	next := big.NewInt(1)
	if prev, ok := m.rounds[feed]; ok && prev.RoundID != nil {
		next = new(big.Int).Add(prev.RoundID, big.NewInt(1))
	}
	m.rounds[feed] = PriceRound{
		RoundID:         next,
		Answer:          new(big.Int).Set(answer),
		Decimals:        decimals,
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: new(big.Int).Set(next),
	}
}

// SetRound stores round verbatim.
func (m *ManualFeed) SetRound(feed common.Address, round PriceRound) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rounds == nil {
		m.rounds = make(map[common.Address]PriceRound)
	}
	m.rounds[feed] = round.Clone()
}

// LatestPrice implements PriceSource.
func (m *ManualFeed) LatestPrice(_ context.Context, feed common.Address) (PriceRound, error) {
	if m == nil {
		return PriceRound{}, ErrFeedNotFound
	}
	m.mu.RLock()
	round, ok := m.rounds[feed]
	m.mu.RUnlock()
	if !ok {
		return PriceRound{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feed.Hex())
	}
	return round.Clone(), nil
}
