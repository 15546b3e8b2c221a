package core

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const (
	genesisPreviousHash = "0"
	genesisSignature    = "Genesis Block Signature"

	// forkPruneWindow is how far a fork may trail the chain height before eviction.
	forkPruneWindow = 10
)

// Fork is an alternate block sequence keyed by its fork tip hash.
type Fork struct {
	Blocks     []*Block
	Length     int
	Difficulty uint64
}

// ForkInfo exposes a fork's weight without its blocks.
type ForkInfo struct {
	Tip        string `json:"tip"`
	Length     int    `json:"length"`
	Difficulty uint64 `json:"difficulty"`
}

// Ledger is the fork-aware chain store. It is the only owner of chain, fork,
// confirmation and pool state. Mutations are serialized by a write lock.
type Ledger struct {
	mu         sync.RWMutex
	crypto     Crypto
	difficulty uint64
	chain      []*Block
	tipHash    string
	forks      map[string]*Fork
	confirmed  map[string]bool
	pool       []Transaction

	store   BlockStore
	metrics *Metrics
	log     *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithBlockStore persists every chain mutation to s and restores the chain from it.
func WithBlockStore(s BlockStore) LedgerOption {
	return func(l *Ledger) { l.store = s }
}

// WithLedgerMetrics reports chain height to m.
func WithLedgerMetrics(m *Metrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

// WithLedgerLogger sets the ledger logger.
func WithLedgerLogger(log *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.log = log }
}

// NewLedger creates a ledger rooted at a fresh genesis block, or at the chain
// already held by the configured BlockStore.
func NewLedger(difficulty uint64, crypto Crypto, opts ...LedgerOption) (*Ledger, error) {
	l := &Ledger{
		crypto:     crypto,
		difficulty: difficulty,
		forks:      make(map[string]*Fork),
		confirmed:  make(map[string]bool),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.store != nil {
		chain, err := l.store.LoadChain()
		if err != nil {
			return nil, fmt.Errorf("load chain: %w", err)
		}
		confirmed, err := l.store.LoadConfirmations()
		if err != nil {
			return nil, fmt.Errorf("load confirmations: %w", err)
		}
		if len(chain) > 0 {
			if !l.validateHashes(chain) {
				return nil, fmt.Errorf("stored chain of %d blocks failed validation", len(chain))
			}
			if !l.validateSequence(chain, "chain") {
				l.log.Warn("Restored chain has broken linkage", "length", len(chain))
			}
			l.chain = chain
			l.tipHash = chain[len(chain)-1].Hash()
			l.confirmed = confirmed
			l.metrics.setChainHeight(l.height())
			l.log.Info("Restored chain from store", "length", len(chain), "tip", l.tipHash)
			return l, nil
		}
	}

	genesis := NewBlock(0, genesisPreviousHash, 1, crypto)
	genesis.SignBlock(genesisSignature)
	genesis.Rehash(crypto)
	if l.store != nil {
		if err := l.store.PutBlocks(0, genesis); err != nil {
			return nil, fmt.Errorf("store genesis: %w", err)
		}
	}
	l.chain = []*Block{genesis}
	l.tipHash = genesis.Hash()
	l.metrics.setChainHeight(0)
	return l, nil
}

func (l *Ledger) height() uint64 {
	return uint64(len(l.chain) - 1)
}

// AddBlock appends b when it links to the current tip.
func (l *Ledger) AddBlock(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b.PreviousHash() != l.tipHash {
		return fmt.Errorf("%w: block %d links to %q, tip is %q", ErrChainLinkage, b.Number(), b.PreviousHash(), l.tipHash)
	}
	if l.store != nil {
		if err := l.store.PutBlocks(uint64(len(l.chain)), b); err != nil {
			return fmt.Errorf("persist block %d: %w", b.Number(), err)
		}
	}
	l.chain = append(l.chain, b)
	l.tipHash = b.Hash()
	l.removePending(b.transactions)
	l.metrics.setChainHeight(l.height())
	return nil
}

// AddForkBlock appends b to the fork keyed by forkTip, creating the fork if needed.
func (l *Ledger) AddForkBlock(forkTip string, b *Block) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.forks[forkTip]
	if !ok {
		f = &Fork{}
		l.forks[forkTip] = f
	}
	f.Blocks = append(f.Blocks, b)
	f.Length = len(f.Blocks)
	f.Difficulty += l.difficulty
}

// ValidateChain recomputes every block hash and checks previous-hash linkage.
func (l *Ledger) ValidateChain() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.validateSequence(l.chain, "chain")
}

// ValidateFork validates the fork keyed by forkTip. Unknown forks are invalid.
func (l *Ledger) ValidateFork(forkTip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.forks[forkTip]
	if !ok {
		return false
	}
	return l.validateSequence(f.Blocks, "fork")
}

// validateHashes checks every cached hash against the block contents. Linkage
// is not checked.
func (l *Ledger) validateHashes(blocks []*Block) bool {
	for _, b := range blocks {
		if b.Hash() != b.CalculateHash(l.crypto) {
			l.log.Warn("Stored block has invalid block hash", "block", b.Number())
			return false
		}
	}
	return true
}

func (l *Ledger) validateSequence(blocks []*Block, kind string) bool {
	for i, b := range blocks {
		if i > 0 && b.PreviousHash() != blocks[i-1].Hash() {
			l.log.Warn("Block has invalid previous block hash", "kind", kind, "block", b.Number())
			return false
		}
		if b.Hash() != b.CalculateHash(l.crypto) {
			l.log.Warn("Block has invalid block hash", "kind", kind, "block", b.Number())
			return false
		}
	}
	return true
}

// RollbackChain truncates the last k blocks. The genesis block is never removed.
func (l *Ledger) RollbackChain(k int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if k < 0 || k >= len(l.chain) {
		return fmt.Errorf("%w: %d of %d blocks", ErrInvalidRollback, k, len(l.chain))
	}
	keep := len(l.chain) - k
	if l.store != nil {
		if err := l.store.DeleteBlocksFrom(uint64(keep)); err != nil {
			return fmt.Errorf("persist rollback: %w", err)
		}
	}
	for i := keep; i < len(l.chain); i++ {
		l.chain[i] = nil
	}
	l.chain = l.chain[:keep]
	l.tipHash = l.chain[keep-1].Hash()
	l.metrics.setChainHeight(l.height())
	return nil
}

// SelectFork appends the whole fork sequence onto the main chain. It does not
// compare fork weight against the main chain; see Fork and Forks for that data.
func (l *Ledger) SelectFork(forkTip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.forks[forkTip]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFork, forkTip)
	}
	if len(f.Blocks) == 0 {
		return nil
	}
	if l.store != nil {
		if err := l.store.PutBlocks(uint64(len(l.chain)), f.Blocks...); err != nil {
			return fmt.Errorf("persist fork: %w", err)
		}
	}
	l.chain = append(l.chain, f.Blocks...)
	l.tipHash = l.chain[len(l.chain)-1].Hash()
	l.metrics.setChainHeight(l.height())
	return nil
}

// ConfirmBlock reports whether b is at or below the chain height and fully signed.
func (l *Ledger) ConfirmBlock(b *Block) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b.Number() <= l.height() && b.VerifySignatures() {
		l.log.Debug("Block confirmed", "block", b.Number())
		return true
	}
	return false
}

// SetBlockConfirmation records a confirmation flag for hash. The hash is not
// checked against chain membership.
func (l *Ledger) SetBlockConfirmation(hash string, confirmed bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		if err := l.store.PutConfirmation(hash, confirmed); err != nil {
			return err
		}
	}
	l.confirmed[hash] = confirmed
	return nil
}

// IsBlockConfirmed reports whether the block with hash was confirmed.
func (l *Ledger) IsBlockConfirmed(hash string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.confirmed[hash]
}

// PruneForks evicts forks trailing the chain height by more than the prune
// window and returns how many were removed.
func (l *Ledger) PruneForks() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	height := l.height()
	pruned := 0
	for tip, f := range l.forks {
		if uint64(f.Length)+forkPruneWindow < height {
			delete(l.forks, tip)
			pruned++
		}
	}
	return pruned
}

// AddTransaction verifies tx and places it in the pending pool.
func (l *Ledger) AddTransaction(tx Transaction) error {
	if err := tx.VerifyTransaction(l.crypto); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool = append(l.pool, tx)
	return nil
}

// HasPendingTransactions reports whether the pool is non-empty.
func (l *Ledger) HasPendingTransactions() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pool) > 0
}

// PendingTransactions returns a snapshot of the pool.
func (l *Ledger) PendingTransactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Transaction(nil), l.pool...)
}

// removePending drops transactions included in a block. Caller holds the write lock.
func (l *Ledger) removePending(included []Transaction) {
	if len(included) == 0 || len(l.pool) == 0 {
		return
	}
	seen := make(map[string]int, len(included))
	for _, tx := range included {
		seen[tx.Serialize()]++
	}
	kept := l.pool[:0]
	for _, tx := range l.pool {
		key := tx.Serialize()
		if seen[key] > 0 {
			seen[key]--
			continue
		}
		kept = append(kept, tx)
	}
	l.pool = kept
}

// Chain returns a snapshot of the canonical chain.
func (l *Ledger) Chain() []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Block(nil), l.chain...)
}

// LatestBlock returns the tip of the canonical chain.
func (l *Ledger) LatestBlock() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1]
}

// Length is the number of blocks including genesis.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Height returns the number of blocks in the canonical chain.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height()
}

// TipHash returns the hash of the latest block.
func (l *Ledger) TipHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tipHash
}

// Tip returns the chain length and tip hash read under one lock.
func (l *Ledger) Tip() (int, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain), l.tipHash
}

// Difficulty returns the proof-of-work difficulty.
func (l *Ledger) Difficulty() uint64 { return l.difficulty }

// Fork returns the tracked length and cumulative difficulty of a fork.
func (l *Ledger) Fork(forkTip string) (ForkInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.forks[forkTip]
	if !ok {
		return ForkInfo{}, fmt.Errorf("%w: %q", ErrUnknownFork, forkTip)
	}
	return ForkInfo{Tip: forkTip, Length: f.Length, Difficulty: f.Difficulty}, nil
}

// Forks lists every tracked fork ordered by tip hash.
func (l *Ledger) Forks() []ForkInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	forks := make([]ForkInfo, 0, len(l.forks))
	for tip, f := range l.forks {
		forks = append(forks, ForkInfo{Tip: tip, Length: f.Length, Difficulty: f.Difficulty})
	}
	sort.Slice(forks, func(i, j int) bool { return forks[i].Tip < forks[j].Tip })
	return forks
}

// LogChainState writes the chain summary at debug level and the tip at info level.
func (l *Ledger) LogChainState() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log.Info("Chain state", "length", len(l.chain), "height", l.height(), "tip", l.tipHash, "forks", len(l.forks))
	for _, b := range l.chain {
		l.log.Debug("Block", "number", b.Number(), "hash", b.Hash())
	}
}

// Close releases the block store, if any.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}
