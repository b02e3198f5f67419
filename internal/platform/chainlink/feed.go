// Package chainlink reads exchange rates from Chainlink aggregator feeds.
package chainlink

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/borrowbot/internal/chain"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// AggregatorABI is the slice of AggregatorV3Interface used by Feed.
var AggregatorABI = chain.MustParseABI(`[
	{"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
	{"type":"function","name":"description","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
	{"type":"function","name":"latestRoundData","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view"}
]`)

// Feed reads the latest round of a price feed quoting the debt asset in
// native units (e.g. DAI/ETH).
type Feed struct {
	caller       chain.Caller
	maxStaleness time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewFeed creates a Feed. A zero maxStaleness disables the age check.
func NewFeed(caller chain.Caller, maxStaleness time.Duration, logger *slog.Logger) *Feed {
	return &Feed{
		caller:       caller,
		maxStaleness: maxStaleness,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "price_feed")),
	}
}

// GetExchangeRate returns native-asset units per one debt-asset unit at the
// feed's precision.
func (f *Feed) GetExchangeRate(ctx context.Context, feed common.Address) (domain.ExchangeRate, error) {
	var (
		decimals uint8
		round    []any
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := chain.Call(gctx, f.caller, feed, AggregatorABI, "decimals")
		if err != nil {
			return err
		}
		decimals = out[0].(uint8)
		return nil
	})
	g.Go(func() error {
		out, err := chain.Call(gctx, f.caller, feed, AggregatorABI, "latestRoundData")
		if err != nil {
			return err
		}
		round = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("chainlink: read %s: %w: %w", feed.Hex(), domain.ErrOracleUnavailable, err)
	}

	roundID := round[0].(*big.Int)
	answer := round[1].(*big.Int)
	updatedAt := round[3].(*big.Int)

	if answer.Sign() <= 0 {
		return domain.ExchangeRate{}, fmt.Errorf("chainlink: %s answered %s: %w", feed.Hex(), answer, domain.ErrOracleUnavailable)
	}
	if updatedAt.Sign() == 0 {
		return domain.ExchangeRate{}, fmt.Errorf("chainlink: %s round %s has no value: %w", feed.Hex(), roundID, domain.ErrStaleData)
	}
	updated := time.Unix(updatedAt.Int64(), 0).UTC()
	if f.maxStaleness > 0 {
		if age := f.now().Sub(updated); age > f.maxStaleness {
			return domain.ExchangeRate{}, fmt.Errorf("chainlink: %s last updated %s ago (max %s): %w",
				feed.Hex(), age.Truncate(time.Second), f.maxStaleness, domain.ErrStaleData)
		}
	}

	rate := domain.ExchangeRate{
		Rate:      domain.NewAmount(answer, decimals),
		RoundID:   roundID,
		UpdatedAt: updated,
	}
	f.logger.InfoContext(ctx, "exchange rate read",
		slog.String("feed", feed.Hex()),
		slog.String("rate", rate.Rate.String()),
		slog.String("round", roundID.String()),
		slog.Time("updated_at", updated),
	)
	return rate, nil
}
