package usecase

import (
	"sort"
	"sync"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
)

// SymbolState is everything the engine tracks for one symbol. Mu orders
// every state transition on the symbol: the queue worker holds it for a
// whole signal and the risk monitor takes it per tick, so the exchange
// never sees two concurrent writes for the same pair.
type SymbolState struct {
	Mu       sync.Mutex
	Position *domain.OpenPosition // nil when flat
	monitor  *positionMonitor     // nil when disarmed
}

// SymbolRegistry hands out one SymbolState per symbol, created lazily.
type SymbolRegistry struct {
	mu     sync.Mutex
	states map[string]*SymbolState
}

func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{states: make(map[string]*SymbolState)}
}

func (r *SymbolRegistry) Get(symbol string) *SymbolState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[symbol]
	if !ok {
		st = &SymbolState{}
		r.states[symbol] = st
	}
	return st
}

func (r *SymbolRegistry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.states))
	for s := range r.states {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SymbolStatus is a point-in-time copy for the status endpoint.
type SymbolStatus struct {
	Symbol     string  `json:"symbol"`
	State      string  `json:"state"`
	Side       string  `json:"side,omitempty"`
	Quantity   float64 `json:"qty,omitempty"`
	EntryPrice float64 `json:"entry_price,omitempty"`
	PositionID string  `json:"position_id,omitempty"`
	Monitored  bool    `json:"monitored"`
	QueueDepth int     `json:"queue_depth"`
}

// Snapshot copies each symbol's state under its lock. Queue depth is
// filled in by the caller, the registry does not know about queues.
func (r *SymbolRegistry) Snapshot() []SymbolStatus {
	var out []SymbolStatus
	for _, symbol := range r.Symbols() {
		st := r.Get(symbol)

		st.Mu.Lock()
		status := SymbolStatus{
			Symbol:    symbol,
			State:     string(domain.StateFlat),
			Monitored: st.monitor != nil,
		}
		if st.Position != nil {
			status.State = string(st.Position.State)
			status.Side = string(st.Position.Side)
			status.Quantity = st.Position.Quantity
			status.EntryPrice = st.Position.EntryPrice
			status.PositionID = st.Position.PositionID
		}
		st.Mu.Unlock()

		out = append(out, status)
	}
	return out
}
