package usecase

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// logTimeLayout matches the ISO8601 encoder the bot logs with.
const logTimeLayout = "2006-01-02T15:04:05.000Z0700"

// logLine is one JSON line of the bot's own log output.
type logLine struct {
	Level  string `json:"level"`
	TS     string `json:"ts"`
	Msg    string `json:"msg"`
	Symbol string `json:"symbol"`
}

// SymbolActivity summarizes what the bot did for one symbol over a log file.
type SymbolActivity struct {
	Symbol    string
	Signals   int // webhooks accepted into the queue
	Opens     int // positions opened and protected
	Closes    int // market closes, including the closing half of flips
	Flips     int
	TPOrders  int
	StopMoves int // successful stop-loss modifications
	Rejects   int // signals dropped before reaching the venue
	Warns     int
	Errors    int
	FirstSeen time.Time
	LastSeen  time.Time
}

// LogAnalyzerService aggregates captured bot logs into per-symbol trade
// activity. It reads files after the fact; nothing in the hot path
// depends on it.
type LogAnalyzerService struct {
	logger *zap.Logger
}

func NewLogAnalyzerService(logger *zap.Logger) *LogAnalyzerService {
	return &LogAnalyzerService{logger: logger}
}

// AnalyzeFile reads one log file line by line. Lines that are not JSON,
// or that carry no symbol field, are skipped.
func (s *LogAnalyzerService) AnalyzeFile(path string) ([]SymbolActivity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	byName := make(map[string]*SymbolActivity)
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry logLine
		if err := json.Unmarshal(line, &entry); err != nil {
			skipped++
			continue
		}
		if entry.Symbol == "" {
			continue
		}

		act := byName[entry.Symbol]
		if act == nil {
			act = &SymbolActivity{Symbol: entry.Symbol}
			byName[entry.Symbol] = act
		}

		if at, err := time.Parse(logTimeLayout, entry.TS); err == nil {
			if act.FirstSeen.IsZero() || at.Before(act.FirstSeen) {
				act.FirstSeen = at
			}
			if at.After(act.LastSeen) {
				act.LastSeen = at
			}
		}

		switch entry.Level {
		case "warn":
			act.Warns++
		case "error":
			act.Errors++
		}

		switch entry.Msg {
		case "Signal enqueued":
			act.Signals++
		case "Position ready":
			act.Opens++
		case "Closing position market":
			act.Closes++
		case "Flipping position":
			act.Flips++
		case "TP level placed":
			act.TPOrders++
		case "Stop loss tightened":
			act.StopMoves++
		case "Queue full, rejecting signal",
			"No config for symbol, dropping signal",
			"Pair disabled, dropping signal",
			"Already positioned, ignoring signal":
			act.Rejects++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	if skipped > 0 {
		s.logger.Debug("Skipped non-json log lines", zap.Int("count", skipped))
	}

	out := make([]SymbolActivity, 0, len(byName))
	for _, act := range byName {
		out = append(out, *act)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Signals != out[j].Signals {
			return out[i].Signals > out[j].Signals
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// LatestLogFile returns the lexically last .log or .jsonl file in dir,
// which is the newest one under date-stamped naming.
func LatestLogFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read log dir: %w", err)
	}

	var latest string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".log", ".jsonl":
			latest = filepath.Join(dir, e.Name())
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no log files in %s", dir)
	}
	return latest, nil
}
