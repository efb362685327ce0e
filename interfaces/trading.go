package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"signal-trader/models"
)

// PriceFeed is the pull-side market data contract
type PriceFeed interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceStream is the push-side market data contract. Updates delivers ticks
// until the context is cancelled or the stream closes.
type PriceStream interface {
	Subscribe(symbols []string) error
	Updates() <-chan models.PriceUpdate
	Close() error
}

// SignalScorer is the external AI scoring contract. Implementations must
// honor ctx cancellation; a timeout is returned as an error and the caller
// treats the signal as unscored.
type SignalScorer interface {
	ScoreSignal(ctx context.Context, signal *models.Signal) (*models.Score, error)
}

// Notifier is a fire-and-forget event sink. Send must never block the
// caller's critical section; implementations dispatch asynchronously.
type Notifier interface {
	Send(message string)
}

// SignalStore persists signal audit rows
type SignalStore interface {
	SaveSignal(signal *models.Signal) error
	ListSignals(limit int) ([]*models.Signal, error)
}

// TradeStore persists trade snapshots
type TradeStore interface {
	SaveTrade(trade *models.Trade) error
	ListTrades(symbol, status string) ([]*models.Trade, error)
}
