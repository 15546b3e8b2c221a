package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Block represents a block in the synergy ledger.
type Block struct {
	number             uint64
	previousHash       string
	timestamp          int64
	transactions       []Transaction
	hash               string
	signatures         []string
	requiredSignatures int

	mu sync.Mutex // guards signatures
}

// NewBlock creates a block stamped with the current time and hashes it.
func NewBlock(number uint64, previousHash string, requiredSignatures int, hasher Hasher) *Block {
	b := &Block{
		number:             number,
		previousHash:       previousHash,
		timestamp:          time.Now().Unix(),
		requiredSignatures: requiredSignatures,
	}
	b.hash = b.CalculateHash(hasher)
	return b
}

// CalculateHash hashes previous hash, timestamp and every transaction in order.
func (b *Block) CalculateHash(hasher Hasher) string {
	var sb strings.Builder
	sb.WriteString(b.previousHash)
	sb.WriteString(strconv.FormatInt(b.timestamp, 10))
	for _, tx := range b.transactions {
		sb.WriteString(tx.Serialize())
	}
	return hasher.Hash([]byte(sb.String()))
}

// Rehash recomputes and caches the block hash.
func (b *Block) Rehash(hasher Hasher) string {
	b.hash = b.CalculateHash(hasher)
	return b.hash
}

// AddTransaction verifies tx and appends it, refreshing the cached hash.
func (b *Block) AddTransaction(tx Transaction, crypto Crypto) error {
	if err := tx.VerifyTransaction(crypto); err != nil {
		return err
	}
	b.transactions = append(b.transactions, tx)
	b.Rehash(crypto)
	return nil
}

// SignBlock appends sig while the block is below its signature threshold.
// The check and the append happen under one lock.
func (b *Block) SignBlock(sig string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.signatures) >= b.requiredSignatures {
		return false
	}
	b.signatures = append(b.signatures, sig)
	return true
}

// VerifySignatures reports whether the threshold has been reached.
func (b *Block) VerifySignatures() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signatures) >= b.requiredSignatures
}

// SignatureCount returns how many signatures the block holds.
func (b *Block) SignatureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signatures)
}

// Signatures returns a copy of the collected signatures.
func (b *Block) Signatures() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.signatures...)
}

// Number is the block's position in the chain.
func (b *Block) Number() uint64              { return b.number }
func (b *Block) PreviousHash() string        { return b.previousHash }
func (b *Block) Timestamp() int64            { return b.timestamp }
func (b *Block) Hash() string                { return b.hash }
func (b *Block) RequiredSignatures() int     { return b.requiredSignatures }
// Transactions returns a copy of the block's transactions.
func (b *Block) Transactions() []Transaction { return append([]Transaction(nil), b.transactions...) }

// Serialize returns number|previous|timestamp|required| followed by each transaction and '#'.
func (b *Block) Serialize() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%s|%d|%d|", b.number, b.previousHash, b.timestamp, b.requiredSignatures)
	for _, tx := range b.transactions {
		sb.WriteString(tx.Serialize())
		sb.WriteByte('#')
	}
	return sb.String()
}

// DeserializeBlock parses the output of Serialize and recomputes the block
// hash with hasher. Signatures are not part of the text form, and transaction
// data must not contain '#'.
func DeserializeBlock(s string, hasher Hasher) (*Block, error) {
	parts := strings.SplitN(s, "|", 5)
	if len(parts) != 5 {
		return nil, fmt.Errorf("malformed block %q: %d header fields", s, len(parts))
	}
	number, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse block number: %w", err)
	}
	timestamp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	required, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("parse required signatures: %w", err)
	}

	b := &Block{
		number:             number,
		previousHash:       parts[1],
		timestamp:          timestamp,
		requiredSignatures: required,
	}
	for _, txText := range strings.Split(parts[4], "#") {
		if txText == "" {
			continue
		}
		tx, err := DeserializeTransaction(txText)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", number, err)
		}
		b.transactions = append(b.transactions, tx)
	}
	b.Rehash(hasher)
	return b, nil
}

type blockJSON struct {
	Number             uint64        `json:"blockNumber"`
	PreviousHash       string        `json:"previousBlockHash"`
	Timestamp          int64         `json:"timestamp"`
	Transactions       []Transaction `json:"transactions"`
	Hash               string        `json:"blockHash"`
	Signatures         []string      `json:"signatures"`
	RequiredSignatures int           `json:"requiredSignatures"`
}

func (b *Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(blockJSON{
		Number:             b.number,
		PreviousHash:       b.previousHash,
		Timestamp:          b.timestamp,
		Transactions:       b.transactions,
		Hash:               b.hash,
		Signatures:         b.Signatures(),
		RequiredSignatures: b.requiredSignatures,
	})
}

// UnmarshalJSON restores a block as stored. The cached hash is taken verbatim;
// callers validate it by recomputation.
func (b *Block) UnmarshalJSON(data []byte) error {
	var v blockJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	b.number = v.Number
	b.previousHash = v.PreviousHash
	b.timestamp = v.Timestamp
	b.transactions = v.Transactions
	b.hash = v.Hash
	b.signatures = v.Signatures
	b.requiredSignatures = v.RequiredSignatures
	return nil
}
