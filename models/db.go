package models

import (
	"time"

	"gorm.io/gorm"
)

// DBSignal is the audit row for a received signal
type DBSignal struct {
	gorm.Model
	SignalID    string `gorm:"uniqueIndex"`
	Source      string `gorm:"index"`
	Asset       string `gorm:"index"`
	Action      string
	Entry       string // decimal string, exact
	StopLoss    string
	TakeProfits string // JSON array of decimal strings
	Leverage    int
	Confidence  float64
	AIScore     *float64
	AIReasoning string
	Strategy    string
	Executed    bool
	Dismissed   bool
	ReceivedAt  time.Time `gorm:"index"`
	RawText     string
}

// DBTrade is the audit row for a trade snapshot
type DBTrade struct {
	gorm.Model
	TradeID           string `gorm:"uniqueIndex"`
	SignalID          string `gorm:"index"`
	Symbol            string `gorm:"index"`
	Side              string
	EntryPrice        string
	Quantity          string
	RemainingQuantity string
	StopLoss          string
	TakeProfits       string // JSON array of tranche objects
	Leverage          int
	Margin            string
	Status            string `gorm:"index"`
	ExitPrice         *string
	ExitReason        string
	RealizedPnL       string
	EntryTime         time.Time
	ExitTime          *time.Time
}

// TableName overrides for cleaner table names
func (DBSignal) TableName() string {
	return "signals"
}

func (DBTrade) TableName() string {
	return "trades"
}
