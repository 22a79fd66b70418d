package exchange

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/bitunix_signal_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	BitunixBaseURL = "https://fapi.bitunix.com"
	BitunixWSURL   = "wss://fapi.bitunix.com/public/"

	userAgent = "bitunix-signal-bot/1.0"
)

// APIError is a non-zero response code from the venue.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitunix api error code=%d msg=%s", e.Code, e.Msg)
}

// BitunixClient implements domain.Exchange against the Bitunix futures
// REST API. Wire formatting happens here: callers pass plain floats and
// the client truncates them to the symbol's precision.
type BitunixClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	marginCoin string
	stopType   string // price source for conditional orders
	client     *http.Client
	logger     *zap.Logger

	infoMu    sync.Mutex
	infoCache map[string]*domain.SymbolInfo

	ticker       *TickerStream
	tickerMaxAge time.Duration
}

func NewBitunixClient(apiKey, apiSecret, baseURL string, logger *zap.Logger) *BitunixClient {
	if baseURL == "" {
		baseURL = BitunixBaseURL
	}
	return &BitunixClient{
		apiKey:     strings.TrimSpace(apiKey),
		apiSecret:  strings.TrimSpace(apiSecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		marginCoin: "USDT",
		stopType:   "LAST_PRICE",
		client:     &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
		infoCache:  make(map[string]*domain.SymbolInfo),
	}
}

// AttachTicker lets GetLastPrice serve from a live WS price cache while
// the cached point is younger than maxAge, falling back to REST.
func (b *BitunixClient) AttachTicker(ts *TickerStream, maxAge time.Duration) {
	b.ticker = ts
	b.tickerMaxAge = maxAge
}

// --- signing / transport ---

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// sign builds the double-SHA256 request signature:
// sha256( sha256(nonce + timestamp + apiKey + queryConcat + body) + secret ).
func (b *BitunixClient) sign(nonce, timestamp, queryConcat, body string) string {
	digest := sha256Hex(nonce + timestamp + b.apiKey + queryConcat + body)
	return sha256Hex(digest + b.apiSecret)
}

// queryConcat is the signable form of the query params: keys sorted,
// concatenated as key+value with no separators.
func queryConcat(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}
	return sb.String()
}

func (b *BitunixClient) sendSigned(ctx context.Context, method, path string, params map[string]string, body map[string]any) (json.RawMessage, error) {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	// The signed body string must be byte-identical to what is sent.
	// Go marshals map keys sorted, matching the venue's canonical form.
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	reqURL := b.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("nonce", nonce)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("sign", b.sign(nonce, timestamp, queryConcat(params), string(bodyBytes)))
	req.Header.Set("language", "en-US")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	return b.do(req)
}

func (b *BitunixClient) sendPublic(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	reqURL := b.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	return b.do(req)
}

func (b *BitunixClient) do(req *http.Request) (json.RawMessage, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("http %d: not json: %.200s", resp.StatusCode, string(respBody))
	}
	if envelope.Code != 0 {
		return nil, &APIError{Code: envelope.Code, Msg: envelope.Msg}
	}
	return envelope.Data, nil
}

// --- loose decoding ---
// The venue mixes strings and numbers and renames id fields between
// endpoints, so responses are plucked out of generic maps.

func decodeList(raw json.RawMessage) []map[string]any {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	// Some endpoints wrap the list one level down.
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, k := range []string{"list", "rows", "data"} {
			if inner, ok := obj[k].([]any); ok {
				out := make([]map[string]any, 0, len(inner))
				for _, it := range inner {
					if m, ok := it.(map[string]any); ok {
						out = append(out, m)
					}
				}
				return out
			}
		}
	}
	return nil
}

func decodeObj(raw json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func pluckStr(m map[string]any, keys ...string) string {
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

func pluckFloat(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func pluckInt(m map[string]any, keys ...string) int64 {
	return int64(pluckFloat(m, keys...))
}

func extractOrderID(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case map[string]any:
		return pluckStr(t, "orderId", "id")
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return pluckStr(m, "orderId", "id")
			}
		}
	}
	return ""
}

// --- public market data ---

func (b *BitunixClient) GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	symbol = strings.ToUpper(symbol)

	b.infoMu.Lock()
	if info, ok := b.infoCache[symbol]; ok {
		b.infoMu.Unlock()
		return info, nil
	}
	b.infoMu.Unlock()

	raw, err := b.sendPublic(ctx, "/api/v1/futures/market/trading_pairs", map[string]string{"symbols": symbol})
	if err != nil {
		return nil, err
	}
	list := decodeList(raw)
	if len(list) == 0 {
		return nil, fmt.Errorf("no trading pair info for %s", symbol)
	}

	row := list[0]
	for _, m := range list {
		if strings.EqualFold(pluckStr(m, "symbol"), symbol) {
			row = m
			break
		}
	}

	info := &domain.SymbolInfo{
		Symbol:         symbol,
		BasePrecision:  int(pluckInt(row, "basePrecision")),
		QuotePrecision: int(pluckInt(row, "quotePrecision")),
		MinTradeVolume: pluckFloat(row, "minTradeVolume"),
	}

	b.infoMu.Lock()
	b.infoCache[symbol] = info
	b.infoMu.Unlock()
	return info, nil
}

func (b *BitunixClient) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)

	if b.ticker != nil {
		if price, at, ok := b.ticker.Price(symbol); ok && time.Since(at) <= b.tickerMaxAge {
			return price, nil
		}
	}

	raw, err := b.sendPublic(ctx, "/api/v1/futures/market/tickers", map[string]string{"symbols": symbol})
	if err != nil {
		return 0, err
	}
	list := decodeList(raw)
	if len(list) == 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	row := list[0]
	for _, m := range list {
		if strings.EqualFold(pluckStr(m, "symbol"), symbol) {
			row = m
			break
		}
	}
	return pluckFloat(row, "lastPrice", "last", "markPrice"), nil
}

// --- account / positions ---

func (b *BitunixClient) GetAvailableBalance(ctx context.Context) (float64, error) {
	raw, err := b.sendSigned(ctx, http.MethodGet, "/api/v1/futures/account", map[string]string{"marginCoin": b.marginCoin}, nil)
	if err != nil {
		return 0, err
	}
	if list := decodeList(raw); len(list) > 0 {
		return pluckFloat(list[0], "available"), nil
	}
	if obj := decodeObj(raw); obj != nil {
		return pluckFloat(obj, "available"), nil
	}
	return 0, nil
}

func (b *BitunixClient) GetPositions(ctx context.Context, symbol string) ([]*domain.ExchangePosition, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = strings.ToUpper(symbol)
	}
	raw, err := b.sendSigned(ctx, http.MethodGet, "/api/v1/futures/position/get_pending_positions", params, nil)
	if err != nil {
		return nil, err
	}

	var out []*domain.ExchangePosition
	for _, m := range decodeList(raw) {
		qty := pluckFloat(m, "qty")
		if qty < 0 {
			qty = -qty
		}
		side := domain.SideLong
		switch strings.ToUpper(pluckStr(m, "side")) {
		case "SELL", "SHORT":
			side = domain.SideShort
		}
		out = append(out, &domain.ExchangePosition{
			PositionID: pluckStr(m, "positionId"),
			Symbol:     strings.ToUpper(pluckStr(m, "symbol")),
			Side:       side,
			Quantity:   qty,
			EntryPrice: pluckFloat(m, "avgOpenPrice", "entryPrice"),
			SLPrice:    pluckFloat(m, "slPrice", "stopLossPrice", "sl"),
		})
	}
	return out, nil
}

// GetPosition returns the symbol's open position, largest first when the
// venue briefly reports more than one row, nil when flat.
func (b *BitunixClient) GetPosition(ctx context.Context, symbol string) (*domain.ExchangePosition, error) {
	list, err := b.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var best *domain.ExchangePosition
	for _, p := range list {
		if p.Quantity <= 0 {
			continue
		}
		if best == nil || p.Quantity > best.Quantity {
			best = p
		}
	}
	return best, nil
}

// --- margin / leverage ---

func (b *BitunixClient) SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error {
	body := map[string]any{
		"symbol":     strings.ToUpper(symbol),
		"marginCoin": b.marginCoin,
		"marginMode": string(mode),
	}
	_, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/account/change_margin_mode", nil, body)
	return err
}

func (b *BitunixClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]any{
		"symbol":     strings.ToUpper(symbol),
		"marginCoin": b.marginCoin,
		"leverage":   leverage,
	}
	_, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/account/change_leverage", nil, body)
	return err
}

// --- orders ---

// Opening uses the usual mapping: LONG buys, SHORT sells.
func openSide(side domain.Side) string {
	if side == domain.SideShort {
		return "SELL"
	}
	return "BUY"
}

// Hedge-mode close inverts nothing: closing a LONG sends BUY with
// tradeSide=CLOSE, closing a SHORT sends SELL.
func closeSide(side domain.Side) string {
	if side == domain.SideShort {
		return "SELL"
	}
	return "BUY"
}

func (b *BitunixClient) OpenMarket(ctx context.Context, symbol string, side domain.Side, qty float64) (string, error) {
	info, err := b.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"symbol":    strings.ToUpper(symbol),
		"qty":       domain.FormatAt(qty, info.BasePrecision),
		"side":      openSide(side),
		"tradeSide": "OPEN",
		"orderType": "MARKET",
	}
	raw, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/trade/place_order", nil, body)
	if err != nil {
		return "", err
	}
	return extractOrderID(raw), nil
}

func (b *BitunixClient) OpenMarketWithSL(ctx context.Context, symbol string, side domain.Side, qty, slPrice float64) (string, error) {
	info, err := b.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"symbol":      strings.ToUpper(symbol),
		"qty":         domain.FormatAt(qty, info.BasePrecision),
		"side":        openSide(side),
		"tradeSide":   "OPEN",
		"orderType":   "MARKET",
		"slPrice":     domain.FormatAt(slPrice, info.QuotePrecision),
		"slStopType":  b.stopType,
		"slOrderType": "MARKET",
	}
	raw, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/trade/place_order", nil, body)
	if err != nil {
		return "", err
	}
	return extractOrderID(raw), nil
}

func (b *BitunixClient) CloseMarket(ctx context.Context, symbol, positionID string, side domain.Side, qty float64) error {
	if positionID == "" {
		return fmt.Errorf("close %s: positionId required", symbol)
	}
	info, err := b.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return err
	}
	body := map[string]any{
		"symbol":     strings.ToUpper(symbol),
		"qty":        domain.FormatAt(qty, info.BasePrecision),
		"side":       closeSide(side),
		"tradeSide":  "CLOSE",
		"positionId": positionID,
		"orderType":  "MARKET",
		"reduceOnly": true,
	}
	_, err = b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/trade/place_order", nil, body)
	return err
}

func (b *BitunixClient) GetOrderDetail(ctx context.Context, orderID string) (*domain.OrderDetail, error) {
	raw, err := b.sendSigned(ctx, http.MethodGet, "/api/v1/futures/trade/get_order_detail", map[string]string{"orderId": orderID}, nil)
	if err != nil {
		return nil, err
	}
	obj := decodeObj(raw)
	if obj == nil {
		return nil, fmt.Errorf("order %s: unexpected detail payload", orderID)
	}

	avg := pluckFloat(obj, "avgPrice", "avgTradePrice", "avgDealPrice", "avgFillPrice")
	tradeQty := pluckFloat(obj, "tradeQty")
	if avg <= 0 && tradeQty > 0 {
		if money := pluckFloat(obj, "dealMoney", "tradeAmount", "amount"); money > 0 {
			avg = money / tradeQty
		}
	}

	return &domain.OrderDetail{
		OrderID:  pluckStr(obj, "orderId", "id"),
		Status:   strings.ToUpper(pluckStr(obj, "status")),
		TradeQty: tradeQty,
		AvgPrice: avg,
	}, nil
}

// --- position SL / partial TP ---

func (b *BitunixClient) placePositionSL(ctx context.Context, symbol, positionID string, slPrice string) (string, error) {
	body := map[string]any{
		"symbol":     strings.ToUpper(symbol),
		"positionId": positionID,
		"slPrice":    slPrice,
		"slStopType": b.stopType,
	}
	raw, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/tpsl/position/place_order", nil, body)
	if err != nil {
		return "", err
	}
	return extractOrderID(raw), nil
}

func (b *BitunixClient) ModifyPositionSL(ctx context.Context, symbol, positionID string, slPrice float64) (string, error) {
	info, err := b.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"symbol":     strings.ToUpper(symbol),
		"positionId": positionID,
		"slPrice":    domain.FormatAt(slPrice, info.QuotePrecision),
		"slStopType": b.stopType,
	}
	raw, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/tpsl/position/modify_order", nil, body)
	if err != nil {
		return "", err
	}
	return extractOrderID(raw), nil
}

// EnsurePositionSL places the position stop, falling back to modifying an
// existing one (the venue rejects a second place for the same position).
func (b *BitunixClient) EnsurePositionSL(ctx context.Context, symbol, positionID string, slPrice float64) (string, error) {
	info, err := b.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return "", err
	}
	formatted := domain.FormatAt(slPrice, info.QuotePrecision)

	id, err := b.placePositionSL(ctx, symbol, positionID, formatted)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil {
		b.logger.Debug("place position SL failed, trying modify",
			zap.String("symbol", symbol), zap.Error(err))
	}
	return b.ModifyPositionSL(ctx, symbol, positionID, slPrice)
}

func (b *BitunixClient) PlacePartialTP(ctx context.Context, symbol, positionID string, tpPrice, qty float64) (string, error) {
	info, err := b.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"symbol":      strings.ToUpper(symbol),
		"positionId":  positionID,
		"tpPrice":     domain.FormatAt(tpPrice, info.QuotePrecision),
		"tpStopType":  b.stopType,
		"tpOrderType": "MARKET",
		"tpQty":       domain.FormatAt(qty, info.BasePrecision),
	}
	raw, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/tpsl/place_order", nil, body)
	if err != nil {
		return "", err
	}
	return extractOrderID(raw), nil
}

func (b *BitunixClient) GetPendingTPSL(ctx context.Context, symbol string) ([]domain.TPSLOrder, error) {
	params := map[string]string{"limit": "200", "skip": "0"}
	if symbol != "" {
		params["symbol"] = strings.ToUpper(symbol)
	}
	raw, err := b.sendSigned(ctx, http.MethodGet, "/api/v1/futures/tpsl/get_pending_orders", params, nil)
	if err != nil {
		return nil, err
	}

	var out []domain.TPSLOrder
	for _, m := range decodeList(raw) {
		out = append(out, domain.TPSLOrder{
			ID:         pluckStr(m, "id", "orderId"),
			Symbol:     strings.ToUpper(pluckStr(m, "symbol")),
			TPPrice:    pluckStr(m, "tpPrice"),
			SLPrice:    pluckStr(m, "slPrice"),
			SLQty:      pluckFloat(m, "slQty"),
			CreateTime: pluckInt(m, "createTime", "ctime", "time", "mtime"),
		})
	}
	return out, nil
}

// CancelTPSL cancels a conditional order. The venue is inconsistent about
// the id field name, so a failed orderId cancel is retried with id.
func (b *BitunixClient) CancelTPSL(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{"symbol": strings.ToUpper(symbol), "orderId": orderID}
	if _, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/tpsl/cancel_order", nil, body); err == nil {
		return nil
	}
	body = map[string]any{"symbol": strings.ToUpper(symbol), "id": orderID}
	_, err := b.sendSigned(ctx, http.MethodPost, "/api/v1/futures/tpsl/cancel_order", nil, body)
	return err
}

// CaptureProvisionalSLIDs scans pending conditional orders for the
// stop-only entries created by a market open with an attached SL. Scans a
// few times because the venue registers the stop asynchronously.
func (b *BitunixClient) CaptureProvisionalSLIDs(ctx context.Context, symbol string, slPrice float64, sinceMs int64) ([]string, error) {
	info, err := b.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	want := domain.FormatAt(slPrice, info.QuotePrecision)

	var ids []string
	seen := make(map[string]bool)

	for try := 0; try < 6; try++ {
		pending, err := b.GetPendingTPSL(ctx, symbol)
		if err != nil {
			pending = nil
		}

		for _, o := range pending {
			if !strings.EqualFold(o.Symbol, symbol) {
				continue
			}
			if o.CreateTime > 0 && o.CreateTime < sinceMs {
				continue
			}
			if o.SLPrice == "" || o.TPPrice != "" || o.SLQty <= 0 {
				continue
			}
			if want != "" && !samePrice(o.SLPrice, want) {
				continue
			}
			if o.ID != "" && !seen[o.ID] {
				seen[o.ID] = true
				ids = append(ids, o.ID)
			}
		}

		if len(ids) > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ids, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return ids, nil
}

// samePrice compares two decimal strings numerically so "0.5000" matches "0.5".
func samePrice(a, c string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fc, errC := strconv.ParseFloat(c, 64)
	if errA != nil || errC != nil {
		return a == c
	}
	return fa == fc
}
