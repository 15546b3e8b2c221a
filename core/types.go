package core

import (
	"fmt"
	"strconv"
	"strings"
)

// TransactionType classifies what a transaction does.
type TransactionType int

const (
	StandardPayment TransactionType = iota
	Governance
	SmartContractExecution
)

func (t TransactionType) String() string {
	switch t {
	case StandardPayment:
		return "standard_payment"
	case Governance:
		return "governance"
	case SmartContractExecution:
		return "smart_contract_execution"
	default:
		return "unknown"
	}
}

// Transaction represents a ledger transaction. Sender is the sender's public key.
type Transaction struct {
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Amount    float64         `json:"amount"`
	Signature string          `json:"signature"`
	Type      TransactionType `json:"type"`
	Data      string          `json:"data,omitempty"`
}

// NewSignedTransaction builds a transaction signed by keys, whose public key becomes the sender.
func NewSignedTransaction(signer Signer, keys KeyPair, receiver string, amount float64, typ TransactionType, data string) (Transaction, error) {
	tx := Transaction{
		Sender:   keys.PublicKey,
		Receiver: receiver,
		Amount:   amount,
		Type:     typ,
		Data:     data,
	}
	sig, err := signer.Sign(tx.SigningPayload(), keys.PrivateKey)
	if err != nil {
		return Transaction{}, fmt.Errorf("sign transaction: %w", err)
	}
	tx.Signature = sig
	return tx, nil
}

// SigningPayload is the message covered by the sender's signature.
func (tx Transaction) SigningPayload() string {
	return strings.Join([]string{
		tx.Sender,
		tx.Receiver,
		formatAmount(tx.Amount),
		strconv.Itoa(int(tx.Type)),
		tx.Data,
	}, "|")
}

// Serialize returns sender|receiver|amount|signature|type|data.
func (tx Transaction) Serialize() string {
	return strings.Join([]string{
		tx.Sender,
		tx.Receiver,
		formatAmount(tx.Amount),
		tx.Signature,
		strconv.Itoa(int(tx.Type)),
		tx.Data,
	}, "|")
}

// DeserializeTransaction parses the output of Serialize. Data may itself contain '|'.
func DeserializeTransaction(s string) (Transaction, error) {
	parts := strings.SplitN(s, "|", 6)
	if len(parts) != 6 {
		return Transaction{}, fmt.Errorf("malformed transaction %q: %d fields", s, len(parts))
	}
	amount, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	typ, err := strconv.Atoi(parts[4])
	if err != nil {
		return Transaction{}, fmt.Errorf("parse type: %w", err)
	}
	return Transaction{
		Sender:    parts[0],
		Receiver:  parts[1],
		Amount:    amount,
		Signature: parts[3],
		Type:      TransactionType(typ),
		Data:      parts[5],
	}, nil
}

// VerifyTransaction checks the signature against the sender's public key.
func (tx Transaction) VerifyTransaction(signer Signer) error {
	ok, err := signer.Verify(tx.SigningPayload(), tx.Signature, tx.Sender)
	if err != nil {
		return fmt.Errorf("verify transaction: %w", err)
	}
	if !ok {
		return ErrInvalidTransaction
	}
	return nil
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
