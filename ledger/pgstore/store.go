// Package pgstore reads the indexer's PostgreSQL database.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/ledger"
)

//go:embed schema.sql
var schemaFile embed.FS

const (
	firstBlockState = "first_database_block"
	lastBlockState  = "last_database_block"
)

// ErrNoState is returned by IndexedRange before the indexer has recorded its range.
var ErrNoState = errors.New("indexer state not found")

// Config holds database configuration
type Config struct {
	URL            string        `yaml:"url"`
	MaxConnections int           `yaml:"maxConnections"`
	MaxIdle        int           `yaml:"maxIdle"`
	ConnMaxLife    time.Duration `yaml:"connMaxLife"`
}

// DefaultConfig returns the pool settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 10,
		MaxIdle:        5,
		ConnMaxLife:    time.Hour,
	}
}

// Store implements ledger.Store on top of the indexer tables.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

var _ ledger.Store = (*Store)(nil)

// Open connects to the database and checks the connection.
func Open(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.Info("Connected to indexer database")
	return &Store{db: db, log: log}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the indexer tables if they do not exist. The indexer
// normally owns the schema; this is for tests and local setups.
func (s *Store) InitSchema(ctx context.Context) error {
	schema, err := schemaFile.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func hexCol(b []byte) string {
	return strings.ToLower(common.Bytes2Hex(b))
}

// FindTransactions implements ledger.Store.
func (s *Store) FindTransactions(ctx context.Context, to common.Address, selector contracts.Selector, fromSec, toSec uint64) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, block_number, transaction_index, timestamp, from_address, to_address, input, status
		FROM transactions
		WHERE to_address = $1 AND function_sig = $2 AND timestamp BETWEEN $3 AND $4
		ORDER BY block_number, transaction_index
	`, hexCol(to.Bytes()), selector.Hex(), fromSec, toSec)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	for rows.Next() {
		var (
			hash, from, toAddr, input string
			block, ts                 uint64
			txIndex                   uint32
			status                    int
		)
		if err := rows.Scan(&hash, &block, &txIndex, &ts, &from, &toAddr, &input, &status); err != nil {
			return nil, err
		}
		res = append(res, ledger.Transaction{
			Hash:             common.HexToHash(hash),
			BlockNumber:      idx.Block(block),
			TransactionIndex: txIndex,
			Timestamp:        ts,
			From:             common.HexToAddress(from),
			To:               common.HexToAddress(toAddr),
			Input:            common.FromHex(input),
			Status:           status == 1,
		})
	}
	return res, rows.Err()
}

// FindEvents implements ledger.Store.
func (s *Store) FindEvents(ctx context.Context, emitter common.Address, topic common.Hash, sinceSec uint64) ([]ledger.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_hash, data, topic0, topic1, topic2, topic3, log_index, block_number, timestamp
		FROM logs
		WHERE address = $1 AND topic0 = $2 AND timestamp >= $3
		ORDER BY block_number, log_index
	`, hexCol(emitter.Bytes()), hexCol(topic.Bytes()), sinceSec)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.Event
	for rows.Next() {
		var (
			txHash, data   string
			t0, t1, t2, t3 string
			logIndex       uint32
			block, ts      uint64
		)
		if err := rows.Scan(&txHash, &data, &t0, &t1, &t2, &t3, &logIndex, &block, &ts); err != nil {
			return nil, err
		}
		e := ledger.Event{
			Address:         emitter,
			Data:            common.FromHex(data),
			BlockNumber:     idx.Block(block),
			LogIndex:        logIndex,
			Timestamp:       ts,
			TransactionHash: common.HexToHash(txHash),
		}
		for _, t := range []string{t0, t1, t2, t3} {
			if t = strings.TrimSpace(t); t == "" {
				break
			}
			e.Topics = append(e.Topics, common.HexToHash(t))
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// IndexedRange implements ledger.Store.
func (s *Store) IndexedRange(ctx context.Context) (uint64, uint64, error) {
	var lowest, highest uint64
	for name, dst := range map[string]*uint64{firstBlockState: &lowest, lastBlockState: &highest} {
		err := s.db.QueryRowContext(ctx, "SELECT block_timestamp FROM states WHERE name = $1", name).Scan(dst)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, fmt.Errorf("%w: %s", ErrNoState, name)
		}
		if err != nil {
			return 0, 0, err
		}
	}
	return lowest, highest, nil
}

// InsertTransaction writes an indexed transaction.
func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	var sig string
	if sel, _, err := contracts.SplitCalldata(tx.Input); err == nil {
		sig = sel.Hex()
	}
	status := 0
	if tx.Status {
		status = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (hash, function_sig, input, block_number, transaction_index, from_address, to_address, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO NOTHING
	`, hexCol(tx.Hash.Bytes()), sig, hexCol(tx.Input), uint64(tx.BlockNumber), tx.TransactionIndex,
		hexCol(tx.From.Bytes()), hexCol(tx.To.Bytes()), status, tx.Timestamp)
	return err
}

// InsertEvent writes an indexed log. At most four topics are stored.
func (s *Store) InsertEvent(ctx context.Context, e ledger.Event) error {
	if len(e.Topics) == 0 || len(e.Topics) > 4 {
		return fmt.Errorf("log has %d topics", len(e.Topics))
	}
	var topics [4]string
	for i, t := range e.Topics {
		topics[i] = hexCol(t.Bytes())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (transaction_hash, address, data, topic0, topic1, topic2, topic3, log_index, block_number, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transaction_hash, log_index) DO NOTHING
	`, hexCol(e.TransactionHash.Bytes()), hexCol(e.Address.Bytes()), hexCol(e.Data),
		topics[0], topics[1], topics[2], topics[3], e.LogIndex, uint64(e.BlockNumber), e.Timestamp)
	return err
}

// UpdateIndexedRange records the timestamps of the oldest and newest indexed blocks.
func (s *Store) UpdateIndexedRange(ctx context.Context, lowestSec, highestSec uint64) error {
	for name, ts := range map[string]uint64{firstBlockState: lowestSec, lastBlockState: highestSec} {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO states (name, index, block_timestamp, updated) VALUES ($1, 0, $2, NOW())
			ON CONFLICT (name) DO UPDATE SET block_timestamp = $2, updated = NOW()
		`, name, ts)
		if err != nil {
			return err
		}
	}
	return nil
}
