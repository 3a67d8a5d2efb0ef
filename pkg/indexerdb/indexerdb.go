// Package indexerdb is the persisted-state interface the RPC Worker and
// Indexer Loop consume (§6): a Postgres-backed historical store of
// blocks, transactions, Chain-instruction costs and logs. It ships the
// base schema migration (migrations/, applied by Migrate) and the
// read-only query surface named in §6; the ingestion workers that
// populate the tables are not part of it.
package indexerdb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Block is the indexed view of one Chain slot.
type Block struct {
	Slot      uint64
	Hash      [32]byte
	ParentSlot uint64
	Finalized bool
	Timestamp time.Time
}

// Tx is the indexed view of one executed Ethereum transaction.
type Tx struct {
	TxSig      [32]byte
	Sender     [20]byte
	Nonce      uint64
	BlockSlot  uint64
	Status     uint8
	GasUsed    uint64
}

// SolIxInfo describes one Chain instruction that contributed to
// executing a given Ethereum transaction (get_sol_ix_info_list_by_neon_sig, §6).
type SolIxInfo struct {
	Signature string
	Slot      uint64
	Opcode    byte
	Index     uint32
}

// CostInfo is one entry of get_cost_list_by_sol_sig_list's response: the
// fee the operator paid for a given Chain signature.
type CostInfo struct {
	Signature string
	LamportsSpent uint64
}

// LogEntry is one row returned by get_log_list / eth_getLogs / neon_getLogs.
type LogEntry struct {
	BlockSlot     uint64
	TxSig         [32]byte
	Address       [20]byte
	Topics        [][32]byte
	Data          []byte
	NeonEventType int
}

// LogFilter mirrors eth_getLogs' query object (§6).
type LogFilter struct {
	FromSlot uint64
	ToSlot   uint64
	Address  [][20]byte
	Topics   [][32]byte
}

// Store is the read-only query surface named in §6's "Persisted state"
// paragraph. Concrete implementations back it with a relational store;
// Postgres is the only one this repo ships, grounded on the teacher's
// connection-pool/migration pattern.
type Store interface {
	GetTxByNeonSig(ctx context.Context, txSig [32]byte) (*Tx, error)
	GetTxListByBlockSlot(ctx context.Context, slot uint64) ([]Tx, error)
	GetBlockByHash(ctx context.Context, hash [32]byte) (*Block, error)
	GetBlockBySlot(ctx context.Context, slot uint64) (*Block, error)
	GetLatestBlock(ctx context.Context) (*Block, error)
	GetFinalizedBlock(ctx context.Context) (*Block, error)
	GetStartingBlock(ctx context.Context) (*Block, error)
	GetSolIxInfoListByNeonSig(ctx context.Context, txSig [32]byte) ([]SolIxInfo, error)
	GetCostListBySolSigList(ctx context.Context, signatures []string) ([]CostInfo, error)
	GetLogList(ctx context.Context, filter LogFilter) ([]LogEntry, error)
}

// PostgresStore implements Store over database/sql + lib/pq, reusing the
// teacher's connection-pool/migration shape from pkg/database/client.go
// verbatim in structure (functional options, embedded migrations,
// schema_migrations bookkeeping) but rebuilt against this repo's own
// historical schema rather than proof-artifact storage.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *PostgresStore) { s.logger = logger }
}

// Config holds connection-pool tuning, mirroring the teacher's
// individual-field DB config rather than a single DSN string so the
// proxy's env surface can set each knob independently.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open dials Postgres, configures the pool and verifies connectivity,
// the same sequence as pkg/database.NewClient.
func Open(ctx context.Context, cfg Config, opts ...Option) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("indexerdb: DSN must not be empty")
	}

	s := &PostgresStore{logger: log.New(log.Writer(), "[IndexerDB] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("indexerdb: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexerdb: ping: %w", err)
	}

	s.db = db
	s.logger.Printf("connected to indexer database (max_open=%d, max_idle=%d)", cfg.MaxOpenConns, cfg.MaxIdleConns)
	return s, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies all pending embedded migrations, tracked in
// schema_migrations the same way pkg/database.Client.MigrateUp does.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("indexerdb: load migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("indexerdb: applied migrations: %w", err)
		}
		applied = map[string]bool{}
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("indexerdb: apply %s: %w", m.version, err)
		}
		s.logger.Printf("applied migration %s", m.version)
	}
	return nil
}

type migration struct {
	version string
	sql     string
}

func loadMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, migration{version: strings.TrimSuffix(d.Name(), ".sql"), sql: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *PostgresStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) GetTxByNeonSig(ctx context.Context, txSig [32]byte) (*Tx, error) {
	var tx Tx
	var sender, sig []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT tx_sig, sender, nonce, block_slot, status, gas_used FROM neon_transactions WHERE tx_sig = $1`,
		txSig[:])
	if err := row.Scan(&sig, &sender, &tx.Nonce, &tx.BlockSlot, &tx.Status, &tx.GasUsed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("indexerdb: get tx by neon sig: %w", err)
	}
	copy(tx.TxSig[:], sig)
	copy(tx.Sender[:], sender)
	return &tx, nil
}

func (s *PostgresStore) GetTxListByBlockSlot(ctx context.Context, slot uint64) ([]Tx, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tx_sig, sender, nonce, block_slot, status, gas_used FROM neon_transactions WHERE block_slot = $1`, slot)
	if err != nil {
		return nil, fmt.Errorf("indexerdb: get tx list by block slot: %w", err)
	}
	defer rows.Close()

	var out []Tx
	for rows.Next() {
		var tx Tx
		var sender, sig []byte
		if err := rows.Scan(&sig, &sender, &tx.Nonce, &tx.BlockSlot, &tx.Status, &tx.GasUsed); err != nil {
			return nil, err
		}
		copy(tx.TxSig[:], sig)
		copy(tx.Sender[:], sender)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBlockByHash(ctx context.Context, hash [32]byte) (*Block, error) {
	return s.queryBlock(ctx, `SELECT slot, hash, parent_slot, finalized, block_time FROM blocks WHERE hash = $1`, hash[:])
}

func (s *PostgresStore) GetBlockBySlot(ctx context.Context, slot uint64) (*Block, error) {
	return s.queryBlock(ctx, `SELECT slot, hash, parent_slot, finalized, block_time FROM blocks WHERE slot = $1`, slot)
}

func (s *PostgresStore) GetLatestBlock(ctx context.Context) (*Block, error) {
	return s.queryBlock(ctx, `SELECT slot, hash, parent_slot, finalized, block_time FROM blocks ORDER BY slot DESC LIMIT 1`)
}

func (s *PostgresStore) GetFinalizedBlock(ctx context.Context) (*Block, error) {
	return s.queryBlock(ctx, `SELECT slot, hash, parent_slot, finalized, block_time FROM blocks WHERE finalized ORDER BY slot DESC LIMIT 1`)
}

func (s *PostgresStore) GetStartingBlock(ctx context.Context) (*Block, error) {
	return s.queryBlock(ctx, `SELECT slot, hash, parent_slot, finalized, block_time FROM blocks ORDER BY slot ASC LIMIT 1`)
}

func (s *PostgresStore) queryBlock(ctx context.Context, query string, args ...interface{}) (*Block, error) {
	var b Block
	var hash []byte
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&b.Slot, &hash, &b.ParentSlot, &b.Finalized, &b.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("indexerdb: query block: %w", err)
	}
	copy(b.Hash[:], hash)
	return &b, nil
}

func (s *PostgresStore) GetSolIxInfoListByNeonSig(ctx context.Context, txSig [32]byte) ([]SolIxInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT signature, slot, opcode, ix_index FROM sol_ix_info WHERE neon_tx_sig = $1 ORDER BY ix_index`, txSig[:])
	if err != nil {
		return nil, fmt.Errorf("indexerdb: get sol ix info list: %w", err)
	}
	defer rows.Close()

	var out []SolIxInfo
	for rows.Next() {
		var info SolIxInfo
		if err := rows.Scan(&info.Signature, &info.Slot, &info.Opcode, &info.Index); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCostListBySolSigList(ctx context.Context, signatures []string) ([]CostInfo, error) {
	if len(signatures) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT signature, lamports_spent FROM sol_ix_cost WHERE signature = ANY($1)`, pq.Array(signatures))
	if err != nil {
		return nil, fmt.Errorf("indexerdb: get cost list: %w", err)
	}
	defer rows.Close()

	var out []CostInfo
	for rows.Next() {
		var c CostInfo
		if err := rows.Scan(&c.Signature, &c.LamportsSpent); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetLogList(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT block_slot, tx_sig, address, topics, data, neon_event_type
		 FROM neon_logs WHERE block_slot BETWEEN $1 AND $2`, filter.FromSlot, filter.ToSlot)
	if err != nil {
		return nil, fmt.Errorf("indexerdb: get log list: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var txSig, address []byte
		var topics pq.ByteaArray
		if err := rows.Scan(&e.BlockSlot, &txSig, &address, &topics, &e.Data, &e.NeonEventType); err != nil {
			return nil, err
		}
		copy(e.TxSig[:], txSig)
		copy(e.Address[:], address)
		e.Topics = make([][32]byte, len(topics))
		for i, t := range topics {
			copy(e.Topics[i][:], t)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
