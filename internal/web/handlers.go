package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
	"github.com/vitos/bitunix_signal_bot/internal/usecase"
	"go.uber.org/zap"
)

// Webhook bodies are small alert payloads; anything bigger is junk.
const maxWebhookBody = 64 << 10

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig, err := s.parser.Parse(body, s.executor.Pairs())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSymbolNotConfigured):
			s.logger.Warn("Webhook for unconfigured symbol", zap.Error(err))
		case errors.Is(err, domain.ErrUnparseable):
			s.logger.Warn("Unparseable webhook", zap.Error(err))
		default:
			s.logger.Warn("Webhook rejected", zap.Error(err))
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.dispatcher.Enqueue(sig); err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			s.logger.Warn("Queue full, rejecting signal",
				zap.String("symbol", sig.Symbol), zap.String("kind", string(sig.Kind)))
			s.writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		s.logger.Error("Enqueue failed", zap.String("symbol", sig.Symbol), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.logger.Info("Signal enqueued",
		zap.String("symbol", sig.Symbol), zap.String("kind", string(sig.Kind)))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"enqueued": true,
		"symbol":   sig.Symbol,
		"signal":   string(sig.Kind),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.Snapshot()
	for i := range statuses {
		statuses[i].QueueDepth = s.dispatcher.QueueDepth(statuses[i].Symbol)
	}
	if statuses == nil {
		statuses = []usecase.SymbolStatus{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"symbols": statuses,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
