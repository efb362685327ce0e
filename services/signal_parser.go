package services

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/models"
)

// Per-strategy base confidence. Each missing optional field (second take
// profit, explicit leverage) subtracts confidenceStep, floored at
// confidenceFloor.
const (
	confidenceStructured = 1.0
	confidenceTemplateA  = 0.85
	confidenceTemplateB  = 0.70
	confidenceHeuristic  = 0.40
	confidenceStep       = 0.05
	confidenceFloor      = 0.30
)

// parsedFields is the intermediate extraction result of one strategy
type parsedFields struct {
	Asset       string
	Action      models.SignalAction
	Entry       decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfits []decimal.Decimal
	Leverage    int // 0 means not stated
}

// parseStrategy is a pure function raw text -> fields. matched reports
// whether the format was recognized at all; err is returned verbatim when
// the format matched but a field was unusable.
type parseStrategy struct {
	name       string
	confidence float64
	parse      func(raw string) (fields *parsedFields, matched bool, err error)
}

// SignalParser turns raw messages into normalized signals by trying a
// fixed, ordered list of format strategies. The first full match wins;
// there is no cross-strategy scoring.
type SignalParser struct {
	strategies []parseStrategy
	logger     *logrus.Logger
}

// NewSignalParser creates a parser with the built-in strategy order:
// structured JSON, template-A, template-B, generic heuristic.
func NewSignalParser() *SignalParser {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	p := &SignalParser{logger: logger}
	p.strategies = []parseStrategy{
		{name: "structured", confidence: confidenceStructured, parse: parseStructured},
		{name: "template-a", confidence: confidenceTemplateA, parse: parseTemplateA},
		{name: "template-b", confidence: confidenceTemplateB, parse: parseTemplateB},
		{name: "heuristic", confidence: confidenceHeuristic, parse: parseHeuristic},
	}
	return p
}

// Parse normalizes a raw message into a Signal. It never mutates account
// state; a failure is returned as a *models.ParseError.
func (p *SignalParser) Parse(raw, source string) (*models.Signal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &models.ParseError{Code: models.CodeUnrecognizedFormat}
	}

	for _, strat := range p.strategies {
		fields, matched, err := strat.parse(raw)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}

		if err := validateFields(fields); err != nil {
			return nil, err
		}

		signal := p.buildSignal(fields, strat, raw, source)
		p.logger.WithFields(logrus.Fields{
			"strategy":   strat.name,
			"asset":      signal.Asset,
			"action":     signal.Action,
			"confidence": signal.Confidence,
		}).Info("Signal parsed")
		return signal, nil
	}

	return nil, &models.ParseError{Code: models.CodeUnrecognizedFormat}
}

func (p *SignalParser) buildSignal(fields *parsedFields, strat parseStrategy, raw, source string) *models.Signal {
	confidence := strat.confidence
	if len(fields.TakeProfits) < 2 {
		confidence -= confidenceStep
	}
	if fields.Leverage == 0 {
		confidence -= confidenceStep
	}
	if confidence < confidenceFloor {
		confidence = confidenceFloor
	}

	leverage := fields.Leverage
	if leverage == 0 {
		leverage = 1
	}

	return &models.Signal{
		ID:          uuid.NewString(),
		Source:      source,
		Asset:       strings.ToUpper(strings.TrimSpace(fields.Asset)),
		Action:      fields.Action,
		Entry:       fields.Entry,
		StopLoss:    fields.StopLoss,
		TakeProfits: sortTakeProfits(fields.Entry, fields.TakeProfits),
		Leverage:    leverage,
		Confidence:  confidence,
		ReceivedAt:  time.Now().UTC(),
		RawText:     raw,
		Strategy:    strat.name,
	}
}

// validateFields rejects non-positive prices and negative leverage after a
// structural match. Leverage 0 means not stated and defaults later.
func validateFields(f *parsedFields) error {
	if !f.Entry.IsPositive() {
		return &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "entry"}
	}
	if f.Leverage < 0 {
		return &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "leverage"}
	}
	if !f.StopLoss.IsPositive() {
		return &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "stop_loss"}
	}
	for _, tp := range f.TakeProfits {
		if !tp.IsPositive() {
			return &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "take_profits"}
		}
	}
	return nil
}

// sortTakeProfits dedupes and orders levels by increasing distance from entry
func sortTakeProfits(entry decimal.Decimal, tps []decimal.Decimal) []decimal.Decimal {
	seen := make(map[string]bool, len(tps))
	out := make([]decimal.Decimal, 0, len(tps))
	for _, tp := range tps {
		key := tp.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Sub(entry).Abs().LessThan(out[j].Sub(entry).Abs())
	})
	return out
}

// normalizeAction maps buy/sell aliases onto long/short
func normalizeAction(s string) (models.SignalAction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return models.ActionLong, true
	case "short", "sell":
		return models.ActionShort, true
	}
	return "", false
}

// parseNumber handles both comma and point decimal separators, including
// thousands-separated forms like 96.500,25 and 96,500.25
func parseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	hasComma := strings.Contains(s, ",")
	hasPoint := strings.Contains(s, ".")
	switch {
	case hasComma && hasPoint:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			// European style: point thousands, comma decimal
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		parts := strings.Split(s, ",")
		if len(parts) == 2 && len(parts[1]) == 2 {
			s = parts[0] + "." + parts[1]
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// --- structured strategy ---

type structuredPayload struct {
	Asset       string        `json:"asset"`
	Symbol      string        `json:"symbol"`
	Action      string        `json:"action"`
	Side        string        `json:"side"`
	Entry       json.Number   `json:"entry"`
	StopLoss    json.Number   `json:"stop_loss"`
	TakeProfits []json.Number `json:"take_profits"`
	Leverage    int           `json:"leverage"`
}

func parseStructured(raw string) (*parsedFields, bool, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false, nil
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var payload structuredPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, false, nil
	}

	asset := payload.Asset
	if asset == "" {
		asset = payload.Symbol
	}
	actionRaw := payload.Action
	if actionRaw == "" {
		actionRaw = payload.Side
	}

	// The payload is recognizably structured; missing required fields are
	// a hard error rather than a fall-through to the text strategies.
	if asset == "" {
		return nil, false, &models.ParseError{Code: models.CodeMissingRequired, Field: "asset"}
	}
	action, ok := normalizeAction(actionRaw)
	if !ok {
		return nil, false, &models.ParseError{Code: models.CodeMissingRequired, Field: "action"}
	}
	entry, ok := parseNumber(payload.Entry.String())
	if !ok {
		return nil, false, &models.ParseError{Code: models.CodeMissingRequired, Field: "entry"}
	}
	stop, ok := parseNumber(payload.StopLoss.String())
	if !ok {
		return nil, false, &models.ParseError{Code: models.CodeMissingRequired, Field: "stop_loss"}
	}

	tps := make([]decimal.Decimal, 0, len(payload.TakeProfits))
	for _, n := range payload.TakeProfits {
		tp, ok := parseNumber(n.String())
		if !ok {
			return nil, false, &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "take_profits"}
		}
		tps = append(tps, tp)
	}

	return &parsedFields{
		Asset:       asset,
		Action:      action,
		Entry:       entry,
		StopLoss:    stop,
		TakeProfits: tps,
		Leverage:    payload.Leverage,
	}, true, nil
}

// --- template strategies ---

// Template-A is the multi-line channel format:
//
//	LONG BTC/USDT
//	Entry: 96500
//	SL: 94000
//	TP1: 99000
//	TP2: 101000
//	Leverage: 10x
var (
	reTemplateAHead = regexp.MustCompile(`(?im)^\s*(LONG|SHORT|BUY|SELL)\s+([A-Z0-9]{2,10}(?:/[A-Z]{2,6})?)\s*$`)
	reEntry         = regexp.MustCompile(`(?i)(?:entry|open|einstieg)\s*[:\s]\s*([0-9][0-9.,]*)`)
	reStopLoss      = regexp.MustCompile(`(?i)(?:sl|stop\s*loss|stoploss)\s*[:\s]\s*([0-9][0-9.,]*)`)
	reTakeProfit    = regexp.MustCompile(`(?i)(?:tp|take\s*profit|target|ziel)\s*\d*\s*[:\s]\s*([0-9][0-9.,]*)`)
	reLeverage      = regexp.MustCompile(`(?i)(?:leverage|lev|hebel)\s*[:\s]\s*([0-9]{1,3})\s*x?`)
)

func parseTemplateA(raw string) (*parsedFields, bool, error) {
	head := reTemplateAHead.FindStringSubmatch(raw)
	if head == nil {
		return nil, false, nil
	}
	entryMatch := reEntry.FindStringSubmatch(raw)
	stopMatch := reStopLoss.FindStringSubmatch(raw)
	if entryMatch == nil || stopMatch == nil {
		return nil, false, nil
	}

	action, _ := normalizeAction(head[1])
	entry, ok := parseNumber(entryMatch[1])
	if !ok {
		return nil, false, &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "entry"}
	}
	stop, ok := parseNumber(stopMatch[1])
	if !ok {
		return nil, false, &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "stop_loss"}
	}

	var tps []decimal.Decimal
	for _, m := range reTakeProfit.FindAllStringSubmatch(raw, -1) {
		if tp, ok := parseNumber(m[1]); ok {
			tps = append(tps, tp)
		}
	}

	leverage := 0
	if m := reLeverage.FindStringSubmatch(raw); m != nil {
		leverage, _ = strconv.Atoi(m[1])
	}

	return &parsedFields{
		Asset:       head[2],
		Action:      action,
		Entry:       entry,
		StopLoss:    stop,
		TakeProfits: tps,
		Leverage:    leverage,
	}, true, nil
}

// Template-B is the compact one-liner:
//
//	BUY BTCUSDT @ 96500 SL 94000 TP 99000 101000 lev 10
var reTemplateB = regexp.MustCompile(`(?i)^\s*(LONG|SHORT|BUY|SELL)\s+([A-Z0-9]{2,10}(?:/[A-Z]{2,6})?)\s*@\s*([0-9][0-9.,]*)\s+SL\s*:?\s*([0-9][0-9.,]*)(?:\s+TP\s*:?\s*((?:[0-9][0-9.,]*\s*)+))?(?:\s+(?:lev|leverage)\s*:?\s*([0-9]{1,3})\s*x?)?\s*$`)

func parseTemplateB(raw string) (*parsedFields, bool, error) {
	m := reTemplateB.FindStringSubmatch(raw)
	if m == nil {
		return nil, false, nil
	}

	action, _ := normalizeAction(m[1])
	entry, ok := parseNumber(m[3])
	if !ok {
		return nil, false, &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "entry"}
	}
	stop, ok := parseNumber(m[4])
	if !ok {
		return nil, false, &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "stop_loss"}
	}

	var tps []decimal.Decimal
	if m[5] != "" {
		for _, part := range strings.Fields(m[5]) {
			if tp, ok := parseNumber(part); ok {
				tps = append(tps, tp)
			}
		}
	}

	leverage := 0
	if m[6] != "" {
		leverage, _ = strconv.Atoi(m[6])
	}

	return &parsedFields{
		Asset:       m[2],
		Action:      action,
		Entry:       entry,
		StopLoss:    stop,
		TakeProfits: tps,
		Leverage:    leverage,
	}, true, nil
}

// --- heuristic strategy ---

var (
	reActionLong  = regexp.MustCompile(`(?i)\b(LONG|BUY|KAUFEN)\b`)
	reActionShort = regexp.MustCompile(`(?i)\b(SHORT|SELL|VERKAUFEN)\b`)
	reCryptoPair  = regexp.MustCompile(`(?i)\b([A-Z]{2,6})[/\-]?(USDT|USDC|BUSD|BTC|ETH)\b`)
	reForexPair   = regexp.MustCompile(`\b([A-Z]{6})\b`)
	reAtPrice     = regexp.MustCompile(`(?i)(?:@|price)\s*:?\s*([0-9][0-9.,]*)`)
)

// parseHeuristic is the last-resort keyword scan. It matches only when all
// four required fields can be located; action without price data is
// reported as a missing-field error rather than an unrecognized format.
func parseHeuristic(raw string) (*parsedFields, bool, error) {
	var action models.SignalAction
	switch {
	case reActionLong.MatchString(raw):
		action = models.ActionLong
	case reActionShort.MatchString(raw):
		action = models.ActionShort
	default:
		return nil, false, nil
	}

	asset := ""
	if m := reCryptoPair.FindStringSubmatch(raw); m != nil {
		asset = strings.ToUpper(m[1]) + "/" + strings.ToUpper(m[2])
	} else if m := reForexPair.FindStringSubmatch(raw); m != nil {
		asset = m[1]
	}
	if asset == "" {
		return nil, false, &models.ParseError{Code: models.CodeMissingRequired, Field: "asset"}
	}

	var entry decimal.Decimal
	entryOK := false
	if m := reEntry.FindStringSubmatch(raw); m != nil {
		entry, entryOK = parseNumber(m[1])
	}
	if !entryOK {
		if m := reAtPrice.FindStringSubmatch(raw); m != nil {
			entry, entryOK = parseNumber(m[1])
		}
	}
	if !entryOK {
		return nil, false, &models.ParseError{Code: models.CodeMissingRequired, Field: "entry"}
	}

	stopMatch := reStopLoss.FindStringSubmatch(raw)
	if stopMatch == nil {
		return nil, false, &models.ParseError{Code: models.CodeMissingRequired, Field: "stop_loss"}
	}
	stop, ok := parseNumber(stopMatch[1])
	if !ok {
		return nil, false, &models.ParseError{Code: models.CodeInvalidNumericValue, Field: "stop_loss"}
	}

	var tps []decimal.Decimal
	for _, m := range reTakeProfit.FindAllStringSubmatch(raw, -1) {
		if tp, ok := parseNumber(m[1]); ok {
			tps = append(tps, tp)
		}
	}

	leverage := 0
	if m := reLeverage.FindStringSubmatch(raw); m != nil {
		leverage, _ = strconv.Atoi(m[1])
	}

	return &parsedFields{
		Asset:       asset,
		Action:      action,
		Entry:       entry,
		StopLoss:    stop,
		TakeProfits: tps,
		Leverage:    leverage,
	}, true, nil
}
