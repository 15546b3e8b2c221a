package core

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLedger(t *testing.T, opts ...LedgerOption) *Ledger {
	t.Helper()
	l, err := NewLedger(3, DefaultCrypto, opts...)
	require.NoError(t, err)
	return l
}

func signedTx(t *testing.T, receiver string, amount float64) Transaction {
	t.Helper()
	keys, err := GenerateKeyPair()
	require.NoError(t, err)
	tx, err := NewSignedTransaction(DefaultCrypto, keys, receiver, amount, StandardPayment, "")
	require.NoError(t, err)
	return tx
}

// nextBlock drafts a block on top of l carrying txs.
func nextBlock(t *testing.T, l *Ledger, txs ...Transaction) *Block {
	t.Helper()
	length, tip := l.Tip()
	b := NewBlock(uint64(length), tip, 2, DefaultCrypto)
	for _, tx := range txs {
		require.NoError(t, b.AddTransaction(tx, DefaultCrypto))
	}
	return b
}
