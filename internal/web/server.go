package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/bitunix_signal_bot/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	parser     *usecase.SignalParser
	executor   *usecase.TradeExecutor
	dispatcher *usecase.SignalDispatcher
	registry   *usecase.SymbolRegistry
	logger     *zap.Logger
}

func NewServer(
	host string,
	port int,
	parser *usecase.SignalParser,
	executor *usecase.TradeExecutor,
	dispatcher *usecase.SignalDispatcher,
	registry *usecase.SymbolRegistry,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		parser:     parser,
		executor:   executor,
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Alert intake
	s.router.HandleFunc("/webhook", methodOnly(http.MethodPost, s.handleWebhook))

	// Probes
	s.router.HandleFunc("/health", methodOnly(http.MethodGet, s.handleHealth))
	s.router.HandleFunc("/status", methodOnly(http.MethodGet, s.handleStatus))
}

// methodOnly reproduces the Go 1.22 "METHOD /path" mux patterns on the
// go1.21 toolchain this module is built with: the handler runs only for
// the given method (plus HEAD for GET), anything else gets 405 with an
// Allow header, exactly as the newer ServeMux would respond.
func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			allow := method
			if method == http.MethodGet {
				allow = "GET, HEAD"
			}
			w.Header().Set("Allow", allow)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
