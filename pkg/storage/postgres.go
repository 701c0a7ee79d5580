package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/overcast-dev/research_panel/pkg/config"
	"github.com/overcast-dev/research_panel/pkg/workflow"
)

// Storage is a postgres-backed workflow.RunStore. Run state is stored as one
// JSONB row per run; the state record is the unit of persistence, so an
// upsert per save is all the durability the workflow needs.
type Storage struct {
	db *sql.DB
}

// NewStorage opens the database and ensures the schema exists.
func NewStorage(cfg config.DBConfig) (*Storage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

var _ workflow.RunStore = (*Storage)(nil)

func (s *Storage) initSchema() error {
	query := `CREATE TABLE IF NOT EXISTS research_runs (
		run_id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		state JSONB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to execute query %s: %w", query, err)
	}
	return nil
}

// Save implements workflow.RunStore.
func (s *Storage) Save(ctx context.Context, state *workflow.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_runs (run_id, phase, state, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (run_id) DO UPDATE
		SET phase = EXCLUDED.phase, state = EXCLUDED.state, updated_at = CURRENT_TIMESTAMP`,
		state.RunID, string(state.Phase), data)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", state.RunID, err)
	}
	return nil
}

// Load implements workflow.RunStore.
func (s *Storage) Load(ctx context.Context, runID string) (*workflow.RunState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM research_runs WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	var state workflow.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}
	return &state, nil
}
