package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateMerkleRoot(t *testing.T) {
	a := Transaction{Sender: "a", Receiver: "x", Amount: 1, Signature: "sa"}
	b := Transaction{Sender: "b", Receiver: "y", Amount: 2, Signature: "sb"}
	c := Transaction{Sender: "c", Receiver: "z", Amount: 3, Signature: "sc"}
	h := func(tx Transaction) string { return DefaultCrypto.Hash([]byte(tx.Serialize())) }
	pair := func(l, r string) string { return DefaultCrypto.Hash([]byte(l + r)) }

	tests := []struct {
		name string
		txs  []Transaction
		want string
	}{
		{
			name: "empty",
			want: "",
		},
		{
			name: "single",
			txs:  []Transaction{a},
			want: h(a),
		},
		{
			name: "pair",
			txs:  []Transaction{a, b},
			want: pair(h(a), h(b)),
		},
		{
			name: "odd count duplicates last",
			txs:  []Transaction{a, b, c},
			want: pair(pair(h(a), h(b)), pair(h(c), h(c))),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, CalculateMerkleRoot(DefaultCrypto, test.txs))
		})
	}
}

func TestMerkleRootOrderSensitive(t *testing.T) {
	a := Transaction{Sender: "a", Amount: 1}
	b := Transaction{Sender: "b", Amount: 2}
	c := Transaction{Sender: "c", Amount: 3}

	require.NotEqual(t,
		CalculateMerkleRoot(DefaultCrypto, []Transaction{a, b, c}),
		CalculateMerkleRoot(DefaultCrypto, []Transaction{c, a, b}),
	)
	require.NotEqual(t,
		CalculateMerkleRoot(DefaultCrypto, []Transaction{a, b}),
		CalculateMerkleRoot(DefaultCrypto, []Transaction{b, a}),
	)
}
