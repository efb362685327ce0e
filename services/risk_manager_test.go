package services

import (
	"testing"

	"github.com/shopspring/decimal"

	"signal-trader/models"
)

func testSignal(action models.SignalAction, entry, stop string, tps ...string) *models.Signal {
	s := &models.Signal{
		ID:       "sig-1",
		Asset:    "BTC/USDT",
		Action:   action,
		Entry:    decimal.RequireFromString(entry),
		StopLoss: decimal.RequireFromString(stop),
	}
	for _, tp := range tps {
		s.TakeProfits = append(s.TakeProfits, decimal.RequireFromString(tp))
	}
	return s
}

func testPortfolio(balance string) models.Portfolio {
	return models.NewPortfolio(decimal.RequireFromString(balance))
}

func TestSize_QuantityIndependentOfLeverage(t *testing.T) {
	rm := NewRiskManager()
	settings := models.DefaultRiskSettings()
	portfolio := testPortfolio("10000")

	// 2% of 10000 = 200 at risk, per-unit risk 2500, so quantity 0.08
	// regardless of leverage.
	low := testSignal(models.ActionLong, "96500", "94000", "101000")
	low.Leverage = 1
	high := testSignal(models.ActionLong, "96500", "94000", "101000")
	high.Leverage = 10

	lowOrder, err := rm.Size(low, settings, portfolio, 0)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	highOrder, err := rm.Size(high, settings, portfolio, 0)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}

	want := decimal.RequireFromString("0.08")
	if lowOrder.Quantity.Cmp(want) != 0 {
		t.Fatalf("quantity=%s want 0.08", lowOrder.Quantity)
	}
	if lowOrder.Quantity.Cmp(highOrder.Quantity) != 0 {
		t.Fatalf("quantity changed with leverage: %s vs %s", lowOrder.Quantity, highOrder.Quantity)
	}

	// Margin does scale with leverage: notional 0.08*96500 = 7720.
	if lowOrder.Margin.Cmp(decimal.RequireFromString("7720")) != 0 {
		t.Fatalf("1x margin=%s want 7720", lowOrder.Margin)
	}
	if highOrder.Margin.Cmp(decimal.RequireFromString("772")) != 0 {
		t.Fatalf("10x margin=%s want 772", highOrder.Margin)
	}
}

func TestSize_LevelOrderingLong(t *testing.T) {
	rm := NewRiskManager()
	settings := models.DefaultRiskSettings()
	portfolio := testPortfolio("10000")

	// Stop above entry for a long.
	bad := testSignal(models.ActionLong, "96500", "97000", "101000")
	_, err := rm.Size(bad, settings, portfolio, 0)
	rerr, ok := err.(*models.RiskError)
	if !ok || rerr.Code != models.CodeInvalidLevelOrdering {
		t.Fatalf("err=%v want invalid_level_ordering", err)
	}

	// Take profits not strictly increasing.
	bad = testSignal(models.ActionLong, "96500", "94000", "99000", "98000")
	_, err = rm.Size(bad, settings, portfolio, 0)
	rerr, ok = err.(*models.RiskError)
	if !ok || rerr.Code != models.CodeInvalidLevelOrdering {
		t.Fatalf("err=%v want invalid_level_ordering", err)
	}
}

func TestSize_LevelOrderingShort(t *testing.T) {
	rm := NewRiskManager()
	settings := models.DefaultRiskSettings()
	portfolio := testPortfolio("10000")

	good := testSignal(models.ActionShort, "96500", "99000", "92000")
	good.Leverage = 10
	if _, err := rm.Size(good, settings, portfolio, 0); err != nil {
		t.Fatalf("size failed: %v", err)
	}

	bad := testSignal(models.ActionShort, "96500", "94000", "92000")
	_, err := rm.Size(bad, settings, portfolio, 0)
	rerr, ok := err.(*models.RiskError)
	if !ok || rerr.Code != models.CodeInvalidLevelOrdering {
		t.Fatalf("err=%v want invalid_level_ordering", err)
	}
}

func TestSize_RiskRewardBelowMinimum(t *testing.T) {
	rm := NewRiskManager()
	settings := models.DefaultRiskSettings()
	portfolio := testPortfolio("10000")

	// Risk 2500 against a 500 reward to the first target: ratio 0.2.
	signal := testSignal(models.ActionLong, "96500", "94000", "97000")
	_, err := rm.Size(signal, settings, portfolio, 0)
	rerr, ok := err.(*models.RiskError)
	if !ok || rerr.Code != models.CodeInsufficientRiskReward {
		t.Fatalf("err=%v want insufficient_risk_reward", err)
	}
}

func TestSize_NoTargetsSkipsRiskReward(t *testing.T) {
	rm := NewRiskManager()
	settings := models.DefaultRiskSettings()
	portfolio := testPortfolio("10000")

	signal := testSignal(models.ActionLong, "96500", "94000")
	signal.Leverage = 10
	order, err := rm.Size(signal, settings, portfolio, 0)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if !order.Quantity.IsPositive() {
		t.Fatalf("quantity=%s want positive", order.Quantity)
	}
}

func TestSize_MaxOpenPositions(t *testing.T) {
	rm := NewRiskManager()
	settings := models.DefaultRiskSettings()
	portfolio := testPortfolio("10000")

	signal := testSignal(models.ActionLong, "96500", "94000", "101000")
	_, err := rm.Size(signal, settings, portfolio, settings.MaxOpenPositions)
	rerr, ok := err.(*models.RiskError)
	if !ok || rerr.Code != models.CodeMaxPositionsReached {
		t.Fatalf("err=%v want max_positions_reached", err)
	}
}

func TestSize_InsufficientMargin(t *testing.T) {
	rm := NewRiskManager()
	settings := models.DefaultRiskSettings()

	// Margin is locked up; only 100 still available while the current
	// balance keeps the risk amount at 200.
	portfolio := models.Portfolio{
		InitialBalance:   decimal.RequireFromString("10000"),
		CurrentBalance:   decimal.RequireFromString("10000"),
		AvailableBalance: decimal.RequireFromString("100"),
		MarginUsed:       decimal.RequireFromString("9900"),
	}

	signal := testSignal(models.ActionLong, "96500", "94000", "101000")
	signal.Leverage = 1
	_, err := rm.Size(signal, settings, portfolio, 0)
	rerr, ok := err.(*models.RiskError)
	if !ok || rerr.Code != models.CodeInsufficientMargin {
		t.Fatalf("err=%v want insufficient_margin", err)
	}
}

func TestSize_DefaultLeverageApplied(t *testing.T) {
	rm := NewRiskManager()
	settings := models.DefaultRiskSettings()
	settings.DefaultLeverage = 5
	portfolio := testPortfolio("10000")

	signal := testSignal(models.ActionLong, "96500", "94000", "101000")
	signal.Leverage = 0
	order, err := rm.Size(signal, settings, portfolio, 0)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if order.Leverage != 5 {
		t.Fatalf("leverage=%d want 5", order.Leverage)
	}
	// 0.08 * 96500 / 5 = 1544
	if order.Margin.Cmp(decimal.RequireFromString("1544")) != 0 {
		t.Fatalf("margin=%s want 1544", order.Margin)
	}
}
