package exchange

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type pricePoint struct {
	price float64
	at    time.Time
}

// TickerStream keeps a live last-price cache from the public ticker
// channel. It is optional: the REST client works without it and falls
// back to REST whenever a cached point is stale.
type TickerStream struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]bool
	prices  map[string]pricePoint

	stopCh chan struct{}
	done   chan struct{}
}

func NewTickerStream(wsURL string, logger *zap.Logger) *TickerStream {
	if wsURL == "" {
		wsURL = BitunixWSURL
	}
	return &TickerStream{
		url:     wsURL,
		logger:  logger,
		symbols: make(map[string]bool),
		prices:  make(map[string]pricePoint),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Track registers symbols to subscribe to. Safe before or after Start;
// a live connection subscribes immediately.
func (t *TickerStream) Track(symbols ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []string
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || t.symbols[s] {
			continue
		}
		t.symbols[s] = true
		added = append(added, s)
	}
	if t.conn != nil && len(added) > 0 {
		if err := t.writeSubscribe(t.conn, added); err != nil {
			t.logger.Warn("ws subscribe failed", zap.Error(err))
		}
	}
}

// Price returns the cached last price and when it was seen.
func (t *TickerStream) Price(symbol string) (float64, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.prices[strings.ToUpper(symbol)]
	if !ok || p.price <= 0 {
		return 0, time.Time{}, false
	}
	return p.price, p.at, true
}

func (t *TickerStream) Start() {
	go t.run()
}

func (t *TickerStream) Stop() {
	close(t.stopCh)
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.mu.Unlock()
	<-t.done
}

func (t *TickerStream) run() {
	defer close(t.done)

	backoff := time.Second
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		conn, err := t.connect()
		if err != nil {
			t.logger.Warn("ws connect failed", zap.String("url", t.url), zap.Error(err))
			select {
			case <-t.stopCh:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		pingStop := make(chan struct{})
		go t.pingLoop(conn, pingStop)
		t.readLoop(conn)
		close(pingStop)

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close()
	}
}

func (t *TickerStream) connect() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.conn = conn
	tracked := make([]string, 0, len(t.symbols))
	for s := range t.symbols {
		tracked = append(tracked, s)
	}
	var subErr error
	if len(tracked) > 0 {
		subErr = t.writeSubscribe(conn, tracked)
	}
	t.mu.Unlock()

	if subErr != nil {
		conn.Close()
		return nil, subErr
	}
	t.logger.Info("ws connected", zap.Int("symbols", len(tracked)))
	return conn, nil
}

// writeSubscribe sends the ticker channel subscription. Callers hold the
// mutex or own the connection exclusively.
func (t *TickerStream) writeSubscribe(conn *websocket.Conn, symbols []string) error {
	args := make([]interface{}, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, map[string]interface{}{"symbol": s, "ch": "ticker"})
	}
	return conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args})
}

func (t *TickerStream) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			err := conn.WriteJSON(map[string]interface{}{"op": "ping", "ping": time.Now().Unix()})
			t.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *TickerStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stopCh:
			default:
				t.logger.Warn("ws read error", zap.Error(err))
			}
			return
		}

		var event map[string]interface{}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}

		ch, _ := event["ch"].(string)
		if ch != "ticker" {
			continue
		}
		symbol, _ := event["symbol"].(string)
		if symbol == "" {
			continue
		}
		data, ok := event["data"].(map[string]interface{})
		if !ok {
			continue
		}

		price := pluckFloat(data, "la", "lastPrice", "last")
		if price <= 0 {
			continue
		}

		t.mu.Lock()
		t.prices[strings.ToUpper(symbol)] = pricePoint{price: price, at: time.Now()}
		t.mu.Unlock()
	}
}
