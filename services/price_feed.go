package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/models"
)

// AlpacaPriceFeed is the pull-side feed backed by Alpaca market data,
// used for stock symbols and manual close lookups.
type AlpacaPriceFeed struct {
	client *marketdata.Client
	logger *logrus.Logger
}

// NewAlpacaPriceFeed creates a feed using the given API credentials
func NewAlpacaPriceFeed(apiKey, secretKey string) *AlpacaPriceFeed {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &AlpacaPriceFeed{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: secretKey,
		}),
		logger: logger,
	}
}

// LatestPrice returns the most recent trade price for a symbol
func (f *AlpacaPriceFeed) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	trade, err := f.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get latest trade for %s: %w", symbol, err)
	}
	if trade.Price <= 0 {
		return decimal.Zero, fmt.Errorf("no usable price for %s", symbol)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

// BinanceStreamFeed is the push-side feed for crypto pairs. It subscribes
// to Binance trade streams over a websocket and emits ticks on Updates
// until closed. Symbols keep their original spelling (BTC/USDT) on the
// way out; the stream name mangling stays internal.
type BinanceStreamFeed struct {
	url     string
	conn    *websocket.Conn
	updates chan models.PriceUpdate
	done    chan struct{}
	logger  *logrus.Logger

	// writeMu serializes writes to conn; the websocket allows at most one
	// concurrent writer and Subscribe can be called from many goroutines.
	writeMu sync.Mutex

	mu      sync.Mutex
	symbols map[string]string // stream symbol (BTCUSDT) -> original (BTC/USDT)
}

type binanceSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceTradeEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Time   int64  `json:"T"`
}

// NewBinanceStreamFeed dials the Binance websocket endpoint
func NewBinanceStreamFeed(url string) (*BinanceStreamFeed, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial price stream: %w", err)
	}

	feed := &BinanceStreamFeed{
		url:     url,
		conn:    conn,
		updates: make(chan models.PriceUpdate, 1024),
		done:    make(chan struct{}),
		logger:  logger,
		symbols: make(map[string]string),
	}
	go feed.readLoop()
	return feed, nil
}

// Subscribe adds trade streams for the given symbols
func (f *BinanceStreamFeed) Subscribe(symbols []string) error {
	params := make([]string, 0, len(symbols))
	f.mu.Lock()
	for _, sym := range symbols {
		stream := strings.ToUpper(strings.ReplaceAll(sym, "/", ""))
		f.symbols[stream] = sym
		params = append(params, strings.ToLower(stream)+"@trade")
	}
	f.mu.Unlock()

	msg := binanceSubscribe{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     time.Now().Unix(),
	}
	f.writeMu.Lock()
	err := f.conn.WriteJSON(msg)
	f.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	f.logger.WithField("symbols", symbols).Info("Subscribed to price streams")
	return nil
}

// Updates returns the tick channel; it is closed when the feed stops
func (f *BinanceStreamFeed) Updates() <-chan models.PriceUpdate {
	return f.updates
}

// Close stops the read loop and closes the connection
func (f *BinanceStreamFeed) Close() error {
	close(f.done)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.Close()
}

func (f *BinanceStreamFeed) readLoop() {
	defer close(f.updates)

	for {
		select {
		case <-f.done:
			return
		default:
		}

		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
			default:
				f.logger.WithError(err).Warn("Price stream read failed, stopping feed")
			}
			return
		}

		var event binanceTradeEvent
		if err := json.Unmarshal(raw, &event); err != nil || event.Event != "trade" {
			continue
		}

		price, err := decimal.NewFromString(event.Price)
		if err != nil || !price.IsPositive() {
			continue
		}

		f.mu.Lock()
		symbol, known := f.symbols[strings.ToUpper(event.Symbol)]
		f.mu.Unlock()
		if !known {
			continue
		}

		update := models.PriceUpdate{
			Symbol: symbol,
			Price:  price,
			Time:   time.UnixMilli(event.Time).UTC(),
		}
		select {
		case f.updates <- update:
		default:
			// Drop the tick rather than block the pump on a slow consumer
		}
	}
}
