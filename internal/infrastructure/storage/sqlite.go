package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/bitunix_signal_bot/internal/domain"
)

// ConfigStore persists the per-symbol trading policy in SQLite. The bot
// loads it once at startup; rows are written by the seeding utility or
// by hand.
type ConfigStore struct {
	db *sql.DB
}

func NewConfigStore(dbPath string) (*ConfigStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &ConfigStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *ConfigStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pairs_config (
			symbol TEXT PRIMARY KEY,
			is_enabled INTEGER NOT NULL DEFAULT 0,
			margin_mode TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			order_size_type TEXT NOT NULL,
			order_size_value REAL NOT NULL,
			sl_enabled INTEGER NOT NULL DEFAULT 0,
			sl_pct REAL NOT NULL DEFAULT 0,
			tp_enabled INTEGER NOT NULL DEFAULT 0,
			breakeven_enabled INTEGER NOT NULL DEFAULT 0,
			breakeven_trigger_pct REAL NOT NULL DEFAULT 0,
			breakeven_offset_pct REAL NOT NULL DEFAULT 0,
			trailing_enabled INTEGER NOT NULL DEFAULT 0,
			trailing_trigger_pct REAL NOT NULL DEFAULT 0.02,
			trailing_step_pct REAL NOT NULL DEFAULT 0,
			trailing_distance_pct REAL NOT NULL DEFAULT 0,
			trailing_move_immediately INTEGER NOT NULL DEFAULT 0,
			same_side_policy TEXT NOT NULL DEFAULT 'IGNORE'
		);`,
		`CREATE TABLE IF NOT EXISTS tp_levels (
			symbol TEXT NOT NULL,
			level INTEGER NOT NULL,
			target_pct REAL NOT NULL,
			close_frac REAL NOT NULL,
			is_enabled INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (symbol, level)
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: trailing_trigger_pct arrived after the first DBs were
	// created. We ignore the error if the column already exists.
	_, _ = s.db.Exec(`ALTER TABLE pairs_config ADD COLUMN trailing_trigger_pct REAL NOT NULL DEFAULT 0.02`)

	return nil
}

func (s *ConfigStore) Close() error {
	return s.db.Close()
}

// LoadPairs returns every configured pair, validated, with its enabled TP
// levels attached in ascending level order. Symbols are uppercased. Any
// invalid row fails the whole load: a half-checked trading config must not
// reach the executor.
func (s *ConfigStore) LoadPairs(ctx context.Context) (map[string]*domain.PairConfig, error) {
	levels, err := s.loadTPLevels(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT symbol, is_enabled, margin_mode, leverage, order_size_type, order_size_value,
			sl_enabled, sl_pct, tp_enabled,
			breakeven_enabled, breakeven_trigger_pct, breakeven_offset_pct,
			trailing_enabled, trailing_trigger_pct, trailing_step_pct, trailing_distance_pct, trailing_move_immediately,
			same_side_policy
		FROM pairs_config`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*domain.PairConfig)
	for rows.Next() {
		var (
			c          domain.PairConfig
			marginMode string
			sizeMode   string
			sidePolicy string
			trigger    sql.NullFloat64
		)
		err := rows.Scan(&c.Symbol, &c.Enabled, &marginMode, &c.Leverage, &sizeMode, &c.SizeValue,
			&c.SLEnabled, &c.SLPct, &c.TPEnabled,
			&c.BreakevenEnabled, &c.BreakevenTriggerPct, &c.BreakevenOffsetPct,
			&c.TrailingEnabled, &trigger, &c.TrailingStepPct, &c.TrailingDistancePct, &c.TrailingMoveImmediately,
			&sidePolicy)
		if err != nil {
			return nil, err
		}

		c.Symbol = upper(c.Symbol)
		c.MarginMode = domain.MarginMode(upper(marginMode))
		c.SizeMode = domain.SizeMode(upper(sizeMode))
		c.SameSidePolicy = domain.SameSidePolicy(upper(sidePolicy))
		c.TrailingTriggerPct = 0.02
		if trigger.Valid {
			c.TrailingTriggerPct = trigger.Float64
		}
		c.TPLevels = levels[c.Symbol]

		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("pairs_config: %w", err)
		}
		out[c.Symbol] = &c
	}
	return out, rows.Err()
}

func (s *ConfigStore) loadTPLevels(ctx context.Context) (map[string][]domain.TPLevel, error) {
	query := `SELECT symbol, level, target_pct, close_frac, is_enabled FROM tp_levels ORDER BY symbol, level`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.TPLevel)
	for rows.Next() {
		var lv domain.TPLevel
		if err := rows.Scan(&lv.Symbol, &lv.Level, &lv.TargetPct, &lv.CloseFrac, &lv.Enabled); err != nil {
			return nil, err
		}
		lv.Symbol = upper(lv.Symbol)

		if lv.TargetPct <= 0 || lv.TargetPct > 1 {
			return nil, fmt.Errorf("tp_levels: %s level %d: target_pct out of range: %v", lv.Symbol, lv.Level, lv.TargetPct)
		}
		if lv.CloseFrac <= 0 || lv.CloseFrac > 1 {
			return nil, fmt.Errorf("tp_levels: %s level %d: close_frac out of range: %v", lv.Symbol, lv.Level, lv.CloseFrac)
		}

		// Disabled rungs stay in the DB but never reach the executor.
		if !lv.Enabled {
			continue
		}
		out[lv.Symbol] = append(out[lv.Symbol], lv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for sym := range out {
		lvs := out[sym]
		sort.Slice(lvs, func(i, j int) bool { return lvs[i].Level < lvs[j].Level })
	}
	return out, nil
}

// UpsertPair writes or replaces one pair's policy row. The config is
// validated first so the DB never holds a row LoadPairs would reject.
func (s *ConfigStore) UpsertPair(ctx context.Context, c *domain.PairConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO pairs_config (symbol, is_enabled, margin_mode, leverage, order_size_type, order_size_value,
			sl_enabled, sl_pct, tp_enabled,
			breakeven_enabled, breakeven_trigger_pct, breakeven_offset_pct,
			trailing_enabled, trailing_trigger_pct, trailing_step_pct, trailing_distance_pct, trailing_move_immediately,
			same_side_policy)
		  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		  ON CONFLICT(symbol) DO UPDATE SET
		  is_enabled=excluded.is_enabled,
		  margin_mode=excluded.margin_mode,
		  leverage=excluded.leverage,
		  order_size_type=excluded.order_size_type,
		  order_size_value=excluded.order_size_value,
		  sl_enabled=excluded.sl_enabled,
		  sl_pct=excluded.sl_pct,
		  tp_enabled=excluded.tp_enabled,
		  breakeven_enabled=excluded.breakeven_enabled,
		  breakeven_trigger_pct=excluded.breakeven_trigger_pct,
		  breakeven_offset_pct=excluded.breakeven_offset_pct,
		  trailing_enabled=excluded.trailing_enabled,
		  trailing_trigger_pct=excluded.trailing_trigger_pct,
		  trailing_step_pct=excluded.trailing_step_pct,
		  trailing_distance_pct=excluded.trailing_distance_pct,
		  trailing_move_immediately=excluded.trailing_move_immediately,
		  same_side_policy=excluded.same_side_policy`
	_, err := s.db.ExecContext(ctx, query,
		upper(c.Symbol), c.Enabled, string(c.MarginMode), c.Leverage, string(c.SizeMode), c.SizeValue,
		c.SLEnabled, c.SLPct, c.TPEnabled,
		c.BreakevenEnabled, c.BreakevenTriggerPct, c.BreakevenOffsetPct,
		c.TrailingEnabled, c.TrailingTriggerPct, c.TrailingStepPct, c.TrailingDistancePct, c.TrailingMoveImmediately,
		string(c.SameSidePolicy))
	return err
}

// ReplaceTPLevels swaps the symbol's whole TP ladder.
func (s *ConfigStore) ReplaceTPLevels(ctx context.Context, symbol string, levels []domain.TPLevel) error {
	symbol = upper(symbol)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tp_levels WHERE symbol = ?`, symbol); err != nil {
		return err
	}
	for _, lv := range levels {
		if lv.TargetPct <= 0 || lv.TargetPct > 1 {
			return fmt.Errorf("tp_levels: %s level %d: target_pct out of range: %v", symbol, lv.Level, lv.TargetPct)
		}
		if lv.CloseFrac <= 0 || lv.CloseFrac > 1 {
			return fmt.Errorf("tp_levels: %s level %d: close_frac out of range: %v", symbol, lv.Level, lv.CloseFrac)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tp_levels (symbol, level, target_pct, close_frac, is_enabled) VALUES (?, ?, ?, ?, ?)`,
			symbol, lv.Level, lv.TargetPct, lv.CloseFrac, lv.Enabled); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
