// Package ledger is the provider's view of the indexed chain: raw
// transactions and events as an indexer stores them (Store), and the
// IndexerClient that projects them into protocol submissions with an explicit
// data availability status.
package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-ftso-provider/contracts"
)

// Transaction is an indexed transaction sent to one of the protocol contracts.
type Transaction struct {
	Hash             common.Hash    `json:"hash"`
	BlockNumber      idx.Block      `json:"blockNumber"`
	TransactionIndex uint32         `json:"transactionIndex"`
	Timestamp        uint64         `json:"timestamp"`
	From             common.Address `json:"from"`
	To               common.Address `json:"to"`
	Input            []byte         `json:"input"`
	Status           bool           `json:"status"`
}

// Event is an indexed log.
type Event struct {
	Address         common.Address `json:"address"`
	Topics          []common.Hash  `json:"topics"`
	Data            []byte         `json:"data"`
	BlockNumber     idx.Block      `json:"blockNumber"`
	LogIndex        uint32         `json:"logIndex"`
	Timestamp       uint64         `json:"timestamp"`
	TransactionHash common.Hash    `json:"transactionHash"`
}

// Store is raw read access to an indexer database. Results are ordered by
// (block number, transaction index) and (block number, log index).
type Store interface {
	// FindTransactions returns transactions to the given contract whose
	// calldata starts with selector and whose block time lies in [fromSec, toSec].
	FindTransactions(ctx context.Context, to common.Address, selector contracts.Selector, fromSec, toSec uint64) ([]Transaction, error)

	// FindEvents returns logs of emitter with the given topic0 emitted at or after sinceSec.
	FindEvents(ctx context.Context, emitter common.Address, topic common.Hash, sinceSec uint64) ([]Event, error)

	// IndexedRange returns the timestamps of the oldest and newest indexed blocks.
	IndexedRange(ctx context.Context) (lowestSec, highestSec uint64, err error)
}

// MemoryStore is an in-process Store. It backs tests and the fake network.
type MemoryStore struct {
	mu      sync.RWMutex
	txs     []Transaction
	events  []Event
	lowest  uint64
	highest uint64
}

// NewMemoryStore creates an empty store covering no time range.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddTransactions appends transactions. The indexed range is extended to
// cover their timestamps.
func (s *MemoryStore) AddTransactions(txs ...Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.txs = append(s.txs, tx)
		s.extend(tx.Timestamp)
	}
	sort.SliceStable(s.txs, func(i, j int) bool {
		if s.txs[i].BlockNumber != s.txs[j].BlockNumber {
			return s.txs[i].BlockNumber < s.txs[j].BlockNumber
		}
		return s.txs[i].TransactionIndex < s.txs[j].TransactionIndex
	})
}

// AddEvents appends logs. The indexed range is extended to cover their timestamps.
func (s *MemoryStore) AddEvents(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events = append(s.events, e)
		s.extend(e.Timestamp)
	}
	sort.SliceStable(s.events, func(i, j int) bool {
		if s.events[i].BlockNumber != s.events[j].BlockNumber {
			return s.events[i].BlockNumber < s.events[j].BlockNumber
		}
		return s.events[i].LogIndex < s.events[j].LogIndex
	})
}

// SetIndexedRange overrides the indexed time range.
func (s *MemoryStore) SetIndexedRange(lowestSec, highestSec uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowest, s.highest = lowestSec, highestSec
}

// Advance moves the newest indexed timestamp forward, as an indexer does when
// it processes empty blocks.
func (s *MemoryStore) Advance(highestSec uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extend(highestSec)
}

func (s *MemoryStore) extend(ts uint64) {
	if s.lowest == 0 && s.highest == 0 {
		s.lowest = ts
	}
	if ts < s.lowest {
		s.lowest = ts
	}
	if ts > s.highest {
		s.highest = ts
	}
}

// FindTransactions implements Store.
func (s *MemoryStore) FindTransactions(ctx context.Context, to common.Address, selector contracts.Selector, fromSec, toSec uint64) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Transaction
	for _, tx := range s.txs {
		if tx.To != to || tx.Timestamp < fromSec || tx.Timestamp > toSec {
			continue
		}
		if sel, _, err := contracts.SplitCalldata(tx.Input); err != nil || sel != selector {
			continue
		}
		res = append(res, tx)
	}
	return res, nil
}

// FindEvents implements Store.
func (s *MemoryStore) FindEvents(ctx context.Context, emitter common.Address, topic common.Hash, sinceSec uint64) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Event
	for _, e := range s.events {
		if e.Address != emitter || e.Timestamp < sinceSec || len(e.Topics) == 0 || e.Topics[0] != topic {
			continue
		}
		res = append(res, e)
	}
	return res, nil
}

// IndexedRange implements Store.
func (s *MemoryStore) IndexedRange(ctx context.Context) (uint64, uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowest, s.highest, nil
}
