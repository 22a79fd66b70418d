package usecase

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
)

// Symbol extraction patterns, tried in order against the upper-cased
// alert text. TradingView alerts arrive as EXCHANGE:SYMBOL, bare
// SOLUSDT.P tokens, or Spanish prose like "PARA SOLUSDT A 150".
var (
	reExchangePrefix = regexp.MustCompile(`\b[A-Z0-9_\-]+:([A-Z0-9.\-]{3,})\b`)
	reUSDTPair       = regexp.MustCompile(`\b([A-Z0-9]{2,}USDT(?:\.P)?)\b`)
	reProse          = regexp.MustCompile(`\b(?:PARA|EN)\s+([A-Z0-9.\-]{3,})\s+A\b`)
	reDottedToken    = regexp.MustCompile(`\b([A-Z0-9]{3,}\.[A-Z0-9]{1,6})\b`)

	reWordLong  = regexp.MustCompile(`\bLONG\b`)
	reWordShort = regexp.MustCompile(`\bSHORT\b`)
)

// SignalParser turns webhook bodies into canonical signals. Bodies can
// be structured JSON ({"symbol": ..., "signal": ...}) or free text, and
// the two modes mix: a JSON body with only a "content" field is parsed
// like free text.
type SignalParser struct{}

func NewSignalParser() *SignalParser {
	return &SignalParser{}
}

// Parse resolves a webhook body against the configured pairs. It returns
// ErrUnparseable when no symbol or no signal kind can be recovered, and
// ErrSymbolNotConfigured when the symbol resolves but is not configured.
func (p *SignalParser) Parse(body []byte, known map[string]*domain.PairConfig) (*domain.Signal, error) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return nil, fmt.Errorf("empty body: %w", domain.ErrUnparseable)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		fields = map[string]any{"content": raw}
	}

	content := strings.ToUpper(stringField(fields, "content", "message", "alert_message"))

	symbol := strings.ToUpper(strings.TrimSpace(stringField(fields, "symbol", "ticker")))
	if symbol == "" {
		symbol = extractSymbol(content)
	}
	if symbol == "" {
		return nil, fmt.Errorf("no symbol in body: %w", domain.ErrUnparseable)
	}

	kind := normalizeKind(stringField(fields, "signal", "action", "side"))
	if !kind.Valid() {
		kind = inferKind(content)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%s: no signal kind in body: %w", symbol, domain.ErrUnparseable)
	}

	symbol = mapToKnown(symbol, known)
	if _, ok := known[symbol]; !ok {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrSymbolNotConfigured)
	}

	return &domain.Signal{Symbol: symbol, Kind: kind, ReceivedAt: time.Now()}, nil
}

// stringField returns the first non-empty value among keys. Numbers are
// accepted too since alert templates sometimes emit them unquoted.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func extractSymbol(textUpper string) string {
	if textUpper == "" {
		return ""
	}
	for _, re := range []*regexp.Regexp{reExchangePrefix, reUSDTPair, reProse, reDottedToken} {
		if m := re.FindStringSubmatch(textUpper); m != nil {
			return strings.ToUpper(strings.TrimSpace(m[1]))
		}
	}
	return ""
}

// normalizeKind maps explicit signal fields to a kind. BUY and SELL are
// aliases for LONG and SHORT.
func normalizeKind(s string) domain.SignalKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return domain.SignalLong
	case "SELL", "SHORT":
		return domain.SignalShort
	case "BUY_TP":
		return domain.SignalBuyTP
	case "SELL_TP":
		return domain.SignalSellTP
	}
	return ""
}

// inferKind reads the kind out of free text. Manual TP phrasings win
// over the LONG/SHORT words since a TP alert names the position side.
func inferKind(textUpper string) domain.SignalKind {
	if textUpper == "" {
		return ""
	}
	if strings.Contains(textUpper, "BUY TP") || strings.Contains(textUpper, "TP ALCISTA") {
		return domain.SignalBuyTP
	}
	if strings.Contains(textUpper, "SELL TP") || strings.Contains(textUpper, "TP BAJISTA") {
		return domain.SignalSellTP
	}
	if reWordLong.MatchString(textUpper) {
		return domain.SignalLong
	}
	if reWordShort.MatchString(textUpper) {
		return domain.SignalShort
	}
	return ""
}

// mapToKnown reconciles the .P suffix TradingView appends to perpetual
// tickers with however the pair is keyed in the config store. Exact hits
// win; otherwise the suffix is stripped or appended to find a match.
func mapToKnown(symbol string, known map[string]*domain.PairConfig) string {
	if _, ok := known[symbol]; ok {
		return symbol
	}
	if strings.HasSuffix(symbol, ".P") {
		if base := strings.TrimSuffix(symbol, ".P"); base != "" {
			if _, ok := known[base]; ok {
				return base
			}
		}
	}
	if _, ok := known[symbol+".P"]; ok {
		return symbol + ".P"
	}
	return symbol
}
