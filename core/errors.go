package core

import "errors"

var (
	// ErrChainLinkage is returned when a block's previous hash does not match the expected tip.
	ErrChainLinkage = errors.New("block does not fit the current chain tip")
	// ErrSignatureThreshold is returned when multisig collection ends below the required count.
	ErrSignatureThreshold = errors.New("not enough validator signatures")
	// ErrUnknownParticipant is returned for participant ids outside the registry.
	ErrUnknownParticipant = errors.New("participant not found")
	// ErrUnknownFork is returned for fork tips the ledger does not track.
	ErrUnknownFork = errors.New("fork not found")
	// ErrUnknownPeer is returned by Network implementations for unregistered peers.
	ErrUnknownPeer = errors.New("peer address not found")
	// ErrCryptoOperation wraps failures of the hash/sign/verify backend.
	ErrCryptoOperation = errors.New("crypto operation failed")
	ErrInvalidBlock    = errors.New("invalid block")
	ErrInvalidRollback = errors.New("rollback depth exceeds chain length")
	// ErrInvalidTransaction is returned when a transaction signature does not verify.
	ErrInvalidTransaction = errors.New("invalid transaction signature")
	ErrNetwork            = errors.New("network operation failed")
)
