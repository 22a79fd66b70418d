package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *BitunixClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewBitunixClient("test-key", "test-secret", srv.URL, zap.NewNop())
}

func reply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func pairsHandler(symbol string) http.HandlerFunc {
	payload := fmt.Sprintf(`{"code":0,"data":[{"symbol":%q,"basePrecision":3,"quotePrecision":2,"minTradeVolume":"0.001"}]}`, symbol)
	return func(w http.ResponseWriter, r *http.Request) {
		reply(w, payload)
	}
}

func TestSignBuildsDoubleSHA256(t *testing.T) {
	c := NewBitunixClient("test-key", "test-secret", "", zap.NewNop())

	nonce := "9f2c4e0ab81d4e6f"
	timestamp := "1724580000000"
	query := "symbolBTCUSDT"
	body := `{"qty":"1.5"}`

	inner := sha256.Sum256([]byte(nonce + timestamp + "test-key" + query + body))
	outer := sha256.Sum256([]byte(hex.EncodeToString(inner[:]) + "test-secret"))
	want := hex.EncodeToString(outer[:])

	if got := c.sign(nonce, timestamp, query, body); got != want {
		t.Errorf("sign() = %s, want %s", got, want)
	}
	if got := c.sign(nonce, timestamp, "", ""); got == want {
		t.Error("sign() produced the same signature without query and body")
	}
}

func TestQueryConcatSortsKeys(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{"nil", nil, ""},
		{"single", map[string]string{"symbol": "BTCUSDT"}, "symbolBTCUSDT"},
		{"sorted", map[string]string{"symbols": "SOLUSDT", "marginCoin": "USDT"}, "marginCoinUSDTsymbolsSOLUSDT"},
		{"numeric values", map[string]string{"skip": "0", "limit": "200"}, "limit200skip0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queryConcat(tt.params); got != tt.want {
				t.Errorf("queryConcat(%v) = %q, want %q", tt.params, got, tt.want)
			}
		})
	}
}

func TestPluckStr(t *testing.T) {
	m := map[string]any{
		"name":  "  btc  ",
		"empty": "",
		"blank": "   ",
		"num":   float64(123456789),
		"flag":  true,
	}

	tests := []struct {
		name string
		keys []string
		want string
	}{
		{"trims spaces", []string{"name"}, "btc"},
		{"skips empty string", []string{"empty", "name"}, "btc"},
		{"skips blank string", []string{"blank", "name"}, "btc"},
		{"formats numbers", []string{"num"}, "123456789"},
		{"ignores other types", []string{"flag"}, ""},
		{"missing key", []string{"nope"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pluckStr(m, tt.keys...); got != tt.want {
				t.Errorf("pluckStr(%v) = %q, want %q", tt.keys, got, tt.want)
			}
		})
	}
}

func TestPluckFloat(t *testing.T) {
	m := map[string]any{
		"f":    1.25,
		"s":    "2.5",
		"pad":  " 3.75 ",
		"bad":  "n/a",
		"zero": float64(0),
	}

	tests := []struct {
		name string
		keys []string
		want float64
	}{
		{"float value", []string{"f"}, 1.25},
		{"numeric string", []string{"s"}, 2.5},
		{"padded string", []string{"pad"}, 3.75},
		{"bad string falls through", []string{"bad", "f"}, 1.25},
		{"zero float still wins", []string{"zero", "f"}, 0},
		{"missing key", []string{"nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pluckFloat(m, tt.keys...); got != tt.want {
				t.Errorf("pluckFloat(%v) = %v, want %v", tt.keys, got, tt.want)
			}
		})
	}
}

func TestPluckIntTruncates(t *testing.T) {
	m := map[string]any{"qty": "12.9", "ctime": float64(1700000001000)}
	if got := pluckInt(m, "qty"); got != 12 {
		t.Errorf("pluckInt(qty) = %d, want 12", got)
	}
	if got := pluckInt(m, "ctime"); got != 1700000001000 {
		t.Errorf("pluckInt(ctime) = %d, want 1700000001000", got)
	}
}

func TestDecodeListShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		n    int
		key  string
		want string
	}{
		{"plain array", `[{"symbol":"BTCUSDT"},{"symbol":"ETHUSDT"}]`, 2, "symbol", "BTCUSDT"},
		{"wrapped list", `{"total":1,"list":[{"symbol":"SOLUSDT"}]}`, 1, "symbol", "SOLUSDT"},
		{"wrapped rows", `{"rows":[{"id":"7"}]}`, 1, "id", "7"},
		{"wrapped data", `{"data":[{"id":"8"}]}`, 1, "id", "8"},
		{"skips non objects", `{"list":[1,{"id":"9"},"x"]}`, 1, "id", "9"},
		{"object without list", `{"symbol":"BTCUSDT"}`, 0, "", ""},
		{"scalar", `42`, 0, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeList(json.RawMessage(tt.raw))
			if len(got) != tt.n {
				t.Fatalf("decodeList(%s) returned %d rows, want %d", tt.raw, len(got), tt.n)
			}
			if tt.n > 0 {
				if s := pluckStr(got[0], tt.key); s != tt.want {
					t.Errorf("first row %s = %q, want %q", tt.key, s, tt.want)
				}
			}
		})
	}
}

func TestExtractOrderID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"object orderId", `{"orderId":"ord-1"}`, "ord-1"},
		{"object id fallback", `{"id":12345}`, "12345"},
		{"array first element", `[{"orderId":"ord-2"},{"orderId":"ord-3"}]`, "ord-2"},
		{"empty array", `[]`, ""},
		{"scalar", `"ord-4"`, ""},
		{"null", `null`, ""},
		{"garbage", `{broken`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractOrderID(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("extractOrderID(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSamePrice(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"0.5000", "0.5", true},
		{"99.00", "99", true},
		{"1e2", "100", true},
		{"0.5001", "0.5", false},
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"", "0", false},
	}
	for _, tt := range tests {
		if got := samePrice(tt.a, tt.b); got != tt.want {
			t.Errorf("samePrice(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestOrderSideMapping(t *testing.T) {
	if got := openSide(domain.SideLong); got != "BUY" {
		t.Errorf("openSide(LONG) = %q, want BUY", got)
	}
	if got := openSide(domain.SideShort); got != "SELL" {
		t.Errorf("openSide(SHORT) = %q, want SELL", got)
	}
	// Hedge mode: closing keeps the opening direction and relies on
	// tradeSide=CLOSE to reduce.
	if got := closeSide(domain.SideLong); got != "BUY" {
		t.Errorf("closeSide(LONG) = %q, want BUY", got)
	}
	if got := closeSide(domain.SideShort); got != "SELL" {
		t.Errorf("closeSide(SHORT) = %q, want SELL", got)
	}
}

func TestGetSymbolInfoCachesLookups(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/market/trading_pairs", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.URL.Query().Get("symbols"); got != "BTCUSDT" {
			t.Errorf("symbols param = %q, want BTCUSDT", got)
		}
		reply(w, `{"code":0,"data":[{"symbol":"BTCUSDT","basePrecision":"4","quotePrecision":2,"minTradeVolume":"0.001"}]}`)
	})
	c := newTestClient(t, mux)

	info, err := c.GetSymbolInfo(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetSymbolInfo: %v", err)
	}
	if info.Symbol != "BTCUSDT" || info.BasePrecision != 4 || info.QuotePrecision != 2 || info.MinTradeVolume != 0.001 {
		t.Errorf("unexpected info: %+v", info)
	}

	if _, err := c.GetSymbolInfo(context.Background(), "btcusdt"); err != nil {
		t.Fatalf("GetSymbolInfo cached: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("trading_pairs requests = %d, want 1", n)
	}
}

func TestGetLastPricePicksSymbolRow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":0,"data":[{"symbol":"ETHUSDT","lastPrice":"2501.5"},{"symbol":"btcusdt","markPrice":"64250.5"}]}`)
	})
	c := newTestClient(t, mux)

	price, err := c.GetLastPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetLastPrice: %v", err)
	}
	if price != 64250.5 {
		t.Errorf("price = %v, want 64250.5", price)
	}
}

func TestGetLastPriceErrsWithoutTicker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":0,"data":[]}`)
	})
	c := newTestClient(t, mux)

	if _, err := c.GetLastPrice(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("expected error for empty ticker list")
	}
}

func TestGetAvailableBalance(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{"list shape", `{"code":0,"data":[{"marginCoin":"USDT","available":"123.45"}]}`, 123.45},
		{"object shape", `{"code":0,"data":{"available":250}}`, 250},
		{"empty", `{"code":0,"data":[]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/v1/futures/account", func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("marginCoin"); got != "USDT" {
					t.Errorf("marginCoin param = %q, want USDT", got)
				}
				reply(w, tt.body)
			})
			c := newTestClient(t, mux)

			got, err := c.GetAvailableBalance(context.Background())
			if err != nil {
				t.Fatalf("GetAvailableBalance: %v", err)
			}
			if got != tt.want {
				t.Errorf("balance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetPositionsNormalizesVenueRows(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/position/get_pending_positions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol param = %q, want BTCUSDT", got)
		}
		reply(w, `{"code":0,"data":[
			{"positionId":"p-1","symbol":"btcusdt","side":"SELL","qty":"-1.5","avgOpenPrice":"64000.5","slPrice":"65000"},
			{"positionId":"p-2","symbol":"BTCUSDT","side":"long","qty":2,"entryPrice":"63000","stopLossPrice":62000.5}
		]}`)
	})
	c := newTestClient(t, mux)

	rows, err := c.GetPositions(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	short := rows[0]
	if short.PositionID != "p-1" || short.Symbol != "BTCUSDT" || short.Side != domain.SideShort {
		t.Errorf("unexpected short row: %+v", short)
	}
	if short.Quantity != 1.5 || short.EntryPrice != 64000.5 || short.SLPrice != 65000 {
		t.Errorf("unexpected short numbers: %+v", short)
	}

	long := rows[1]
	if long.Side != domain.SideLong || long.Quantity != 2 || long.EntryPrice != 63000 || long.SLPrice != 62000.5 {
		t.Errorf("unexpected long row: %+v", long)
	}
}

func TestGetPositionPicksLargestRow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/position/get_pending_positions", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":0,"data":[
			{"positionId":"p-0","symbol":"BTCUSDT","side":"BUY","qty":"0"},
			{"positionId":"p-1","symbol":"BTCUSDT","side":"BUY","qty":"0.4"},
			{"positionId":"p-2","symbol":"BTCUSDT","side":"BUY","qty":"2"}
		]}`)
	})
	c := newTestClient(t, mux)

	pos, err := c.GetPosition(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos == nil || pos.PositionID != "p-2" {
		t.Fatalf("got %+v, want p-2", pos)
	}
}

func TestGetPositionNilWhenFlat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/position/get_pending_positions", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":0,"data":[]}`)
	})
	c := newTestClient(t, mux)

	pos, err := c.GetPosition(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != nil {
		t.Errorf("got %+v, want nil", pos)
	}
}

func TestGetOrderDetailFillPrice(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.OrderDetail
	}{
		{
			"direct avg",
			`{"code":0,"data":{"orderId":"o-1","status":"filled","tradeQty":"2","avgPrice":"100.25"}}`,
			domain.OrderDetail{OrderID: "o-1", Status: "FILLED", TradeQty: 2, AvgPrice: 100.25},
		},
		{
			"derived from deal money",
			`{"code":0,"data":{"id":"o-2","status":"FILLED","tradeQty":"2","dealMoney":"201"}}`,
			domain.OrderDetail{OrderID: "o-2", Status: "FILLED", TradeQty: 2, AvgPrice: 100.5},
		},
		{
			"unfilled",
			`{"code":0,"data":{"orderId":"o-3","status":"init","tradeQty":0}}`,
			domain.OrderDetail{OrderID: "o-3", Status: "INIT"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/v1/futures/trade/get_order_detail", func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("orderId"); got != tt.want.OrderID {
					t.Errorf("orderId param = %q, want %q", got, tt.want.OrderID)
				}
				reply(w, tt.body)
			})
			c := newTestClient(t, mux)

			got, err := c.GetOrderDetail(context.Background(), tt.want.OrderID)
			if err != nil {
				t.Fatalf("GetOrderDetail: %v", err)
			}
			if *got != tt.want {
				t.Errorf("detail = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestAPIErrorFromEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/account", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":10007,"msg":"signature error"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.GetAvailableBalance(context.Background())
	if err == nil {
		t.Fatal("expected error for non-zero code")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not an APIError", err)
	}
	if apiErr.Code != 10007 || apiErr.Msg != "signature error" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestRejectsNonJSONResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/account", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>upstream error</html>")
	})
	c := newTestClient(t, mux)

	_, err := c.GetAvailableBalance(context.Background())
	if err == nil {
		t.Fatal("expected error for non-json body")
	}
}

func TestOpenMarketSendsSignedOrder(t *testing.T) {
	type order struct {
		Symbol    string `json:"symbol"`
		Qty       string `json:"qty"`
		Side      string `json:"side"`
		TradeSide string `json:"tradeSide"`
		OrderType string `json:"orderType"`
	}
	var got order
	var rawBody []byte
	var header http.Header

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/market/trading_pairs", pairsHandler("SOLUSDT"))
	mux.HandleFunc("/api/v1/futures/trade/place_order", func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		rawBody, _ = io.ReadAll(r.Body)
		if err := json.Unmarshal(rawBody, &got); err != nil {
			t.Errorf("decode order body: %v", err)
		}
		reply(w, `{"code":0,"data":{"orderId":"ord-9"}}`)
	})
	c := newTestClient(t, mux)

	orderID, err := c.OpenMarket(context.Background(), "solusdt", domain.SideShort, 2.5)
	if err != nil {
		t.Fatalf("OpenMarket: %v", err)
	}
	if orderID != "ord-9" {
		t.Errorf("orderID = %q, want ord-9", orderID)
	}

	want := order{Symbol: "SOLUSDT", Qty: "2.500", Side: "SELL", TradeSide: "OPEN", OrderType: "MARKET"}
	if got != want {
		t.Errorf("order body = %+v, want %+v", got, want)
	}

	if header.Get("api-key") != "test-key" {
		t.Errorf("api-key header = %q, want test-key", header.Get("api-key"))
	}
	for _, h := range []string{"nonce", "timestamp", "sign"} {
		if header.Get(h) == "" {
			t.Errorf("missing %s header", h)
		}
	}
	if wantSign := c.sign(header.Get("nonce"), header.Get("timestamp"), "", string(rawBody)); header.Get("sign") != wantSign {
		t.Error("sign header does not match the signed payload")
	}
}

func TestOpenMarketWithSLAttachesStop(t *testing.T) {
	type order struct {
		Qty         string `json:"qty"`
		Side        string `json:"side"`
		SLPrice     string `json:"slPrice"`
		SLStopType  string `json:"slStopType"`
		SLOrderType string `json:"slOrderType"`
	}
	var got order

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/market/trading_pairs", pairsHandler("BTCUSDT"))
	mux.HandleFunc("/api/v1/futures/trade/place_order", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode order body: %v", err)
		}
		reply(w, `{"code":0,"data":{"orderId":"ord-10"}}`)
	})
	c := newTestClient(t, mux)

	orderID, err := c.OpenMarketWithSL(context.Background(), "BTCUSDT", domain.SideLong, 0.5, 63000.5)
	if err != nil {
		t.Fatalf("OpenMarketWithSL: %v", err)
	}
	if orderID != "ord-10" {
		t.Errorf("orderID = %q, want ord-10", orderID)
	}

	want := order{Qty: "0.500", Side: "BUY", SLPrice: "63000.50", SLStopType: "LAST_PRICE", SLOrderType: "MARKET"}
	if got != want {
		t.Errorf("order body = %+v, want %+v", got, want)
	}
}

func TestCloseMarketRequiresPositionID(t *testing.T) {
	c := NewBitunixClient("test-key", "test-secret", "http://127.0.0.1:0", zap.NewNop())
	if err := c.CloseMarket(context.Background(), "BTCUSDT", "", domain.SideLong, 1); err == nil {
		t.Fatal("expected error for empty positionId")
	}
}

func TestCloseMarketSendsReduceOnly(t *testing.T) {
	type order struct {
		Qty        string `json:"qty"`
		Side       string `json:"side"`
		TradeSide  string `json:"tradeSide"`
		PositionID string `json:"positionId"`
		ReduceOnly bool   `json:"reduceOnly"`
	}
	var got order

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/market/trading_pairs", pairsHandler("BTCUSDT"))
	mux.HandleFunc("/api/v1/futures/trade/place_order", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode order body: %v", err)
		}
		reply(w, `{"code":0,"data":{"orderId":"ord-11"}}`)
	})
	c := newTestClient(t, mux)

	if err := c.CloseMarket(context.Background(), "BTCUSDT", "p-1", domain.SideShort, 1.5); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}

	want := order{Qty: "1.500", Side: "SELL", TradeSide: "CLOSE", PositionID: "p-1", ReduceOnly: true}
	if got != want {
		t.Errorf("order body = %+v, want %+v", got, want)
	}
}

func TestEnsurePositionSL(t *testing.T) {
	newSLClient := func(t *testing.T, placeReply string) (*BitunixClient, *atomic.Int32) {
		var modifies atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v1/futures/market/trading_pairs", pairsHandler("BTCUSDT"))
		mux.HandleFunc("/api/v1/futures/tpsl/position/place_order", func(w http.ResponseWriter, r *http.Request) {
			reply(w, placeReply)
		})
		mux.HandleFunc("/api/v1/futures/tpsl/position/modify_order", func(w http.ResponseWriter, r *http.Request) {
			modifies.Add(1)
			var body struct {
				SLPrice string `json:"slPrice"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SLPrice != "63000.50" {
				t.Errorf("modify slPrice = %q, want 63000.50", body.SLPrice)
			}
			reply(w, `{"code":0,"data":{"orderId":"sl-2"}}`)
		})
		return newTestClient(t, mux), &modifies
	}

	t.Run("place succeeds", func(t *testing.T) {
		c, modifies := newSLClient(t, `{"code":0,"data":{"orderId":"sl-1"}}`)
		id, err := c.EnsurePositionSL(context.Background(), "BTCUSDT", "p-1", 63000.5)
		if err != nil || id != "sl-1" {
			t.Fatalf("got (%q, %v), want sl-1", id, err)
		}
		if modifies.Load() != 0 {
			t.Error("modify called after successful place")
		}
	})

	t.Run("place rejected falls back to modify", func(t *testing.T) {
		c, modifies := newSLClient(t, `{"code":30012,"msg":"tpsl already exists"}`)
		id, err := c.EnsurePositionSL(context.Background(), "BTCUSDT", "p-1", 63000.5)
		if err != nil || id != "sl-2" {
			t.Fatalf("got (%q, %v), want sl-2", id, err)
		}
		if modifies.Load() != 1 {
			t.Errorf("modify calls = %d, want 1", modifies.Load())
		}
	})

	t.Run("place without id falls back to modify", func(t *testing.T) {
		c, modifies := newSLClient(t, `{"code":0,"data":{}}`)
		id, err := c.EnsurePositionSL(context.Background(), "BTCUSDT", "p-1", 63000.5)
		if err != nil || id != "sl-2" {
			t.Fatalf("got (%q, %v), want sl-2", id, err)
		}
		if modifies.Load() != 1 {
			t.Errorf("modify calls = %d, want 1", modifies.Load())
		}
	})
}

func TestPlacePartialTPFormatsPriceAndQty(t *testing.T) {
	type order struct {
		PositionID  string `json:"positionId"`
		TPPrice     string `json:"tpPrice"`
		TPQty       string `json:"tpQty"`
		TPOrderType string `json:"tpOrderType"`
	}
	var got order

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/market/trading_pairs", pairsHandler("BTCUSDT"))
	mux.HandleFunc("/api/v1/futures/tpsl/place_order", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode tp body: %v", err)
		}
		reply(w, `{"code":0,"data":{"orderId":"tp-1"}}`)
	})
	c := newTestClient(t, mux)

	id, err := c.PlacePartialTP(context.Background(), "BTCUSDT", "p-1", 65000.123, 0.2567)
	if err != nil {
		t.Fatalf("PlacePartialTP: %v", err)
	}
	if id != "tp-1" {
		t.Errorf("orderID = %q, want tp-1", id)
	}

	want := order{PositionID: "p-1", TPPrice: "65000.12", TPQty: "0.256", TPOrderType: "MARKET"}
	if got != want {
		t.Errorf("tp body = %+v, want %+v", got, want)
	}
}

func TestCancelTPSLRetriesAlternateIDField(t *testing.T) {
	var bodies []map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/tpsl/cancel_order", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode cancel body: %v", err)
		}
		bodies = append(bodies, body)
		if _, ok := body["orderId"]; ok {
			reply(w, `{"code":20001,"msg":"order not found"}`)
			return
		}
		reply(w, `{"code":0,"data":{}}`)
	})
	c := newTestClient(t, mux)

	if err := c.CancelTPSL(context.Background(), "BTCUSDT", "sl-9"); err != nil {
		t.Fatalf("CancelTPSL: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("cancel requests = %d, want 2", len(bodies))
	}
	if id, _ := bodies[0]["orderId"].(string); id != "sl-9" {
		t.Errorf("first attempt orderId = %q, want sl-9", id)
	}
	if id, _ := bodies[1]["id"].(string); id != "sl-9" {
		t.Errorf("second attempt id = %q, want sl-9", id)
	}
}

func TestCaptureProvisionalSLIDsFiltersPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/futures/market/trading_pairs", pairsHandler("BTCUSDT"))
	mux.HandleFunc("/api/v1/futures/tpsl/get_pending_orders", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"code":0,"data":[
			{"id":"sl-1","symbol":"BTCUSDT","slPrice":"99","slQty":"1.5","createTime":1700000002000},
			{"id":"combo-1","symbol":"BTCUSDT","slPrice":"99","tpPrice":"101","slQty":"1.5","createTime":1700000002000},
			{"id":"old-1","symbol":"BTCUSDT","slPrice":"99","slQty":"1.5","createTime":1699999000000},
			{"id":"other-1","symbol":"ETHUSDT","slPrice":"99","slQty":"1","createTime":1700000002000},
			{"id":"far-1","symbol":"BTCUSDT","slPrice":"98.5","slQty":"1.5","createTime":1700000002000},
			{"id":"noqty-1","symbol":"BTCUSDT","slPrice":"99","slQty":0,"createTime":1700000002000}
		]}`)
	})
	c := newTestClient(t, mux)

	ids, err := c.CaptureProvisionalSLIDs(context.Background(), "BTCUSDT", 99.0, 1700000000000)
	if err != nil {
		t.Fatalf("CaptureProvisionalSLIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sl-1" {
		t.Errorf("ids = %v, want [sl-1]", ids)
	}
}
