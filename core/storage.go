package core

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	blockPrefix        = "block:"
	confirmationPrefix = "confirm:"
)

// BlockStore persists the canonical chain and the confirmation ledger. Blocks
// are addressed by their position in the chain, not by block number, since a
// selected fork may repeat numbers already on the chain.
type BlockStore interface {
	PutBlocks(position uint64, blocks ...*Block) error
	DeleteBlocksFrom(position uint64) error
	PutConfirmation(hash string, confirmed bool) error
	LoadChain() ([]*Block, error)
	LoadConfirmations() (map[string]bool, error)
	Close() error
}

// LevelDBStore keeps blocks in LevelDB keyed by zero padded chain position.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens or creates a store under path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// NewMemLevelDBStore returns a store backed by LevelDB's in-memory storage.
func NewMemLevelDBStore() (*LevelDBStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func blockKey(position uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", blockPrefix, position))
}

// PutBlocks writes blocks at consecutive positions starting at position in a single batch.
func (s *LevelDBStore) PutBlocks(position uint64, blocks ...*Block) error {
	batch := new(leveldb.Batch)
	for i, b := range blocks {
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal block %d: %w", b.Number(), err)
		}
		batch.Put(blockKey(position+uint64(i)), data)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to store blocks: %w", err)
	}
	return nil
}

// DeleteBlocksFrom removes every stored block at position or later.
func (s *LevelDBStore) DeleteBlocksFrom(position uint64) error {
	iter := s.db.NewIterator(&util.Range{Start: blockKey(position), Limit: util.BytesPrefix([]byte(blockPrefix)).Limit}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete blocks: %w", err)
	}
	return nil
}

// PutConfirmation records the confirmation flag for a block hash.
func (s *LevelDBStore) PutConfirmation(hash string, confirmed bool) error {
	value := []byte{0}
	if confirmed {
		value[0] = 1
	}
	if err := s.db.Put([]byte(confirmationPrefix+hash), value, nil); err != nil {
		return fmt.Errorf("failed to store confirmation: %w", err)
	}
	return nil
}

// LoadChain returns stored blocks in chain order.
func (s *LevelDBStore) LoadChain() ([]*Block, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(blockPrefix)), nil)
	defer iter.Release()

	var chain []*Block
	for iter.Next() {
		b := new(Block)
		if err := json.Unmarshal(iter.Value(), b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block %s: %w", iter.Key(), err)
		}
		chain = append(chain, b)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return chain, nil
}

// LoadConfirmations returns every recorded confirmation flag by block hash.
func (s *LevelDBStore) LoadConfirmations() (map[string]bool, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(confirmationPrefix)), nil)
	defer iter.Release()

	confirmations := make(map[string]bool)
	for iter.Next() {
		hash := string(iter.Key()[len(confirmationPrefix):])
		confirmations[hash] = len(iter.Value()) > 0 && iter.Value()[0] == 1
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return confirmations, nil
}

// Close releases the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
