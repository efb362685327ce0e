package services

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"signal-trader/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestParse_StructuredFullPayload(t *testing.T) {
	p := NewSignalParser()
	raw := `{"asset":"BTC/USDT","action":"long","entry":96500,"stop_loss":94000,"take_profits":[99000,101000],"leverage":10}`

	signal, err := p.Parse(raw, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if signal.Strategy != "structured" {
		t.Fatalf("strategy=%s want structured", signal.Strategy)
	}
	if !almostEqual(signal.Confidence, 1.0) {
		t.Fatalf("confidence=%f want 1.0", signal.Confidence)
	}
	if signal.Asset != "BTC/USDT" {
		t.Fatalf("asset=%s want BTC/USDT", signal.Asset)
	}
	if signal.Action != models.ActionLong {
		t.Fatalf("action=%s want long", signal.Action)
	}
	if signal.Entry.Cmp(decimal.NewFromInt(96500)) != 0 {
		t.Fatalf("entry=%s want 96500", signal.Entry)
	}
	if signal.Leverage != 10 {
		t.Fatalf("leverage=%d want 10", signal.Leverage)
	}
	if len(signal.TakeProfits) != 2 {
		t.Fatalf("take profits=%d want 2", len(signal.TakeProfits))
	}
}

func TestParse_StructuredSellAliasMapsToShort(t *testing.T) {
	p := NewSignalParser()
	raw := `{"symbol":"ETH/USDT","side":"sell","entry":3000,"stop_loss":3100}`

	signal, err := p.Parse(raw, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if signal.Action != models.ActionShort {
		t.Fatalf("action=%s want short", signal.Action)
	}
	if signal.Asset != "ETH/USDT" {
		t.Fatalf("asset=%s want ETH/USDT", signal.Asset)
	}
}

func TestParse_StructuredMissingActionIsHardError(t *testing.T) {
	p := NewSignalParser()
	raw := `{"asset":"BTC/USDT","entry":96500,"stop_loss":94000}`

	_, err := p.Parse(raw, "test")
	perr, ok := err.(*models.ParseError)
	if !ok {
		t.Fatalf("err=%v want *models.ParseError", err)
	}
	if perr.Code != models.CodeMissingRequired || perr.Field != "action" {
		t.Fatalf("code=%s field=%s want missing_required_field/action", perr.Code, perr.Field)
	}
}

func TestParse_TemplateAMultiLine(t *testing.T) {
	p := NewSignalParser()
	raw := "LONG BTC/USDT\nEntry: 96500\nSL: 94000\nTP1: 99000\nTP2: 101000\nLeverage: 10x"

	signal, err := p.Parse(raw, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if signal.Strategy != "template-a" {
		t.Fatalf("strategy=%s want template-a", signal.Strategy)
	}
	if !almostEqual(signal.Confidence, 0.85) {
		t.Fatalf("confidence=%f want 0.85", signal.Confidence)
	}
	if signal.StopLoss.Cmp(decimal.NewFromInt(94000)) != 0 {
		t.Fatalf("stop=%s want 94000", signal.StopLoss)
	}
	if len(signal.TakeProfits) != 2 {
		t.Fatalf("take profits=%d want 2", len(signal.TakeProfits))
	}
	if signal.Leverage != 10 {
		t.Fatalf("leverage=%d want 10", signal.Leverage)
	}
}

func TestParse_TemplateAConfidenceDecrements(t *testing.T) {
	p := NewSignalParser()
	// One take profit and no leverage: two optional fields missing.
	raw := "SHORT ETH/USDT\nEntry: 3000\nSL: 3100\nTP1: 2800"

	signal, err := p.Parse(raw, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !almostEqual(signal.Confidence, 0.75) {
		t.Fatalf("confidence=%f want 0.75", signal.Confidence)
	}
	if signal.Leverage != 1 {
		t.Fatalf("leverage=%d want default 1", signal.Leverage)
	}
}

func TestParse_TemplateBOneLiner(t *testing.T) {
	p := NewSignalParser()
	raw := "BUY BTCUSDT @ 96500 SL 94000 TP 99000 101000 lev 10"

	signal, err := p.Parse(raw, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if signal.Strategy != "template-b" {
		t.Fatalf("strategy=%s want template-b", signal.Strategy)
	}
	if !almostEqual(signal.Confidence, 0.70) {
		t.Fatalf("confidence=%f want 0.70", signal.Confidence)
	}
	if signal.Action != models.ActionLong {
		t.Fatalf("action=%s want long", signal.Action)
	}
	if len(signal.TakeProfits) != 2 {
		t.Fatalf("take profits=%d want 2", len(signal.TakeProfits))
	}
}

func TestParse_HeuristicHitsConfidenceFloor(t *testing.T) {
	p := NewSignalParser()
	raw := "thinking about going LONG on BTC/USDT here, entry 96500, stop loss 94000"

	signal, err := p.Parse(raw, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if signal.Strategy != "heuristic" {
		t.Fatalf("strategy=%s want heuristic", signal.Strategy)
	}
	// 0.40 base minus two optional-field steps would be 0.30, the floor.
	if !almostEqual(signal.Confidence, 0.30) {
		t.Fatalf("confidence=%f want 0.30", signal.Confidence)
	}
	if signal.Asset != "BTC/USDT" {
		t.Fatalf("asset=%s want BTC/USDT", signal.Asset)
	}
}

func TestParse_HeuristicActionWithoutPricesIsMissingField(t *testing.T) {
	p := NewSignalParser()
	raw := "going LONG on BTC/USDT, looks great"

	_, err := p.Parse(raw, "test")
	perr, ok := err.(*models.ParseError)
	if !ok {
		t.Fatalf("err=%v want *models.ParseError", err)
	}
	if perr.Code != models.CodeMissingRequired {
		t.Fatalf("code=%s want missing_required_field", perr.Code)
	}
}

func TestParse_UnrecognizedFormat(t *testing.T) {
	p := NewSignalParser()

	for _, raw := range []string{"", "   ", "have a nice day"} {
		_, err := p.Parse(raw, "test")
		perr, ok := err.(*models.ParseError)
		if !ok {
			t.Fatalf("raw=%q err=%v want *models.ParseError", raw, err)
		}
		if perr.Code != models.CodeUnrecognizedFormat {
			t.Fatalf("raw=%q code=%s want unrecognized_format", raw, perr.Code)
		}
	}
}

func TestParse_NegativeEntryRejected(t *testing.T) {
	p := NewSignalParser()
	raw := `{"asset":"BTC/USDT","action":"long","entry":-5,"stop_loss":94000}`

	_, err := p.Parse(raw, "test")
	perr, ok := err.(*models.ParseError)
	if !ok {
		t.Fatalf("err=%v want *models.ParseError", err)
	}
	if perr.Code != models.CodeInvalidNumericValue || perr.Field != "entry" {
		t.Fatalf("code=%s field=%s want invalid_numeric_value/entry", perr.Code, perr.Field)
	}
}

func TestParse_NegativeLeverageRejected(t *testing.T) {
	p := NewSignalParser()
	raw := `{"asset":"BTC/USDT","action":"long","entry":96500,"stop_loss":94000,"leverage":-5}`

	_, err := p.Parse(raw, "test")
	perr, ok := err.(*models.ParseError)
	if !ok {
		t.Fatalf("err=%v want *models.ParseError", err)
	}
	if perr.Code != models.CodeInvalidNumericValue || perr.Field != "leverage" {
		t.Fatalf("code=%s field=%s want invalid_numeric_value/leverage", perr.Code, perr.Field)
	}
}

func TestParse_TakeProfitsSortedByDistanceFromEntry(t *testing.T) {
	p := NewSignalParser()
	raw := `{"asset":"BTC/USDT","action":"long","entry":96500,"stop_loss":94000,"take_profits":[101000,99000,99000]}`

	signal, err := p.Parse(raw, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(signal.TakeProfits) != 2 {
		t.Fatalf("take profits=%d want 2 after dedupe", len(signal.TakeProfits))
	}
	if signal.TakeProfits[0].Cmp(decimal.NewFromInt(99000)) != 0 {
		t.Fatalf("tp1=%s want 99000", signal.TakeProfits[0])
	}
	if signal.TakeProfits[1].Cmp(decimal.NewFromInt(101000)) != 0 {
		t.Fatalf("tp2=%s want 101000", signal.TakeProfits[1])
	}
}

func TestParseNumber_SeparatorStyles(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"96500", "96500"},
		{"96500.25", "96500.25"},
		{"96,500.25", "96500.25"},
		{"96.500,25", "96500.25"},
		{"96,500", "96500"},
		{"96,50", "96.5"},
		{"1,234,567", "1234567"},
	}
	for _, tc := range cases {
		got, ok := parseNumber(tc.in)
		if !ok {
			t.Fatalf("parseNumber(%q) failed", tc.in)
		}
		want := decimal.RequireFromString(tc.want)
		if got.Cmp(want) != 0 {
			t.Fatalf("parseNumber(%q)=%s want %s", tc.in, got, want)
		}
	}

	if _, ok := parseNumber("abc"); ok {
		t.Fatal("parseNumber(abc) should fail")
	}
}
