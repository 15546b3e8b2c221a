package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	initialSlashingPenalty     = 100.0
	initialRewardForValidators = 50.0
)

// Network is the peer transport the coordinator broadcasts through.
type Network interface {
	SendMessage(ctx context.Context, peerID uint64, text string) error
	AddPeer(peerID uint64, address string)
	ActivePeers() []uint64
}

// Validator is a participant that signs blocks with its own key.
type Validator struct {
	ID   int
	Keys KeyPair
}

// GenerateValidators creates validators for participant ids [0, n).
func GenerateValidators(n int) ([]Validator, error) {
	validators := make([]Validator, n)
	for i := range validators {
		keys, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		validators[i] = Validator{ID: i, Keys: keys}
	}
	return validators, nil
}

// RoundState is a step of the consensus round state machine.
type RoundState int

const (
	Idle RoundState = iota
	ParametersAdjusted
	BlockDrafted
	Validated
	Rejected
	SignaturesCollected
	Timeout
	Finalized
	Aborted
)

var roundStateNames = [...]string{
	Idle:                "idle",
	ParametersAdjusted:  "parameters_adjusted",
	BlockDrafted:        "block_drafted",
	Validated:           "validated",
	Rejected:            "rejected",
	SignaturesCollected: "signatures_collected",
	Timeout:             "timeout",
	Finalized:           "finalized",
	Aborted:             "aborted",
}

func (s RoundState) String() string {
	if int(s) < len(roundStateNames) {
		return roundStateNames[s]
	}
	return "unknown"
}

// Round reports how far one consensus round got.
type Round struct {
	State      RoundState
	Block      *Block
	Signatures int
	Duration   time.Duration
	Err        error
}

func (r *Round) MarshalJSON() ([]byte, error) {
	v := struct {
		State       string `json:"state"`
		BlockNumber uint64 `json:"blockNumber"`
		BlockHash   string `json:"blockHash,omitempty"`
		Signatures  int    `json:"signatures"`
		DurationMS  int64  `json:"durationMs"`
		Error       string `json:"error,omitempty"`
	}{
		State:      r.State.String(),
		Signatures: r.Signatures,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Block != nil {
		v.BlockNumber = r.Block.Number()
		v.BlockHash = r.Block.Hash()
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return json.Marshal(v)
}

// CoordinatorConfig tunes a Coordinator. Zero values take defaults.
type CoordinatorConfig struct {
	RequiredSignatures int
	// RoundTimeout bounds signature collection. Zero disables the deadline.
	RoundTimeout time.Duration
	Workers      int
}

// Coordinator drives block production rounds. It holds shared handles to the
// registry, the ledger and the network but owns none of their state.
type Coordinator struct {
	registry   *Registry
	ledger     *Ledger
	network    Network
	crypto     Crypto
	validators []Validator
	cfg        CoordinatorConfig

	mu                  sync.Mutex // held for a whole round
	slashingPenalty     float64
	rewardForValidators float64
	current             *Block

	metrics *Metrics
	log     *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorMetrics reports round outcomes to m.
func WithCoordinatorMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(log *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator checks that every validator is a registry participant.
func NewCoordinator(registry *Registry, ledger *Ledger, network Network, crypto Crypto, validators []Validator, cfg CoordinatorConfig, opts ...CoordinatorOption) (*Coordinator, error) {
	for _, v := range validators {
		if _, err := registry.Participant(v.ID); err != nil {
			return nil, fmt.Errorf("validator %d: %w", v.ID, err)
		}
	}
	if cfg.RequiredSignatures <= 0 {
		cfg.RequiredSignatures = 2
	}
	c := &Coordinator{
		registry:            registry,
		ledger:              ledger,
		network:             network,
		crypto:              crypto,
		validators:          validators,
		cfg:                 cfg,
		slashingPenalty:     initialSlashingPenalty,
		rewardForValidators: initialRewardForValidators,
		log:                 slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes one round. The returned Round is always non-nil and its Err
// matches the returned error. The ledger is untouched and no slash or reward
// is applied unless the block is finalized.
func (c *Coordinator) Run(ctx context.Context) (*Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	round := &Round{State: Idle}
	defer func() {
		round.Duration = time.Since(start)
		c.metrics.observeRound(round)
		c.log.Info("Consensus round finished", "state", round.State.String(), "signatures", round.Signatures, "elapsed", round.Duration, "error", round.Err)
	}()
	fail := func(state RoundState, err error) (*Round, error) {
		round.State = state
		round.Err = err
		if round.Block != nil {
			round.Signatures = round.Block.SignatureCount()
		}
		return round, err
	}

	c.log.Debug("Initiating consensus", "validators", len(c.validators))
	c.DynamicNetworkManagement()
	round.State = ParametersAdjusted

	block := c.CreateNewBlock()
	round.Block = block
	round.State = BlockDrafted

	if err := c.ValidateBlock(block); err != nil {
		return fail(Rejected, err)
	}
	round.State = Validated

	sigCtx := ctx
	if c.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		sigCtx, cancel = context.WithTimeout(ctx, c.cfg.RoundTimeout)
		defer cancel()
	}
	if err := c.HandleMultisig(sigCtx, block); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fail(Timeout, err)
		}
		return fail(Aborted, err)
	}
	round.State = SignaturesCollected
	round.Signatures = block.SignatureCount()

	err := c.FinalizeBlock(ctx, block)
	if err != nil && !errors.Is(err, ErrNetwork) {
		return fail(Aborted, err)
	}
	round.State = Finalized
	round.Err = err

	c.ValidateAndSlash()
	c.DistributeRewards()
	return round, err
}

// DynamicNetworkManagement grows the slashing penalty and validator reward.
func (c *Coordinator) DynamicNetworkManagement() {
	c.slashingPenalty *= 1.05
	c.rewardForValidators *= 1.02
	c.log.Debug("Adjusted network parameters", "slashingPenalty", c.slashingPenalty, "rewardForValidators", c.rewardForValidators)
}

// CreateNewBlock drafts the next block on top of the current tip with the
// pending transactions.
func (c *Coordinator) CreateNewBlock() *Block {
	length, tip := c.ledger.Tip()
	b := NewBlock(uint64(length), tip, c.cfg.RequiredSignatures, c.crypto)
	for _, tx := range c.ledger.PendingTransactions() {
		if err := b.AddTransaction(tx, c.crypto); err != nil {
			c.log.Warn("Skipping pending transaction", "sender", tx.Sender, "error", err)
		}
	}
	c.log.Debug("Creating new block", "block", b.Number(), "transactions", len(b.transactions))
	return b
}

// ValidateBlock performs the structural checks on a drafted block.
func (c *Coordinator) ValidateBlock(b *Block) error {
	if b.PreviousHash() == "" {
		return fmt.Errorf("%w: block %d has empty previous block hash", ErrInvalidBlock, b.Number())
	}
	if b.Hash() == "" {
		return fmt.Errorf("%w: block %d has empty block hash", ErrInvalidBlock, b.Number())
	}
	return nil
}

// HandleMultisig collects validator signatures on b concurrently until the
// block holds RequiredSignatures or ctx is done.
func (c *Coordinator) HandleMultisig(ctx context.Context, b *Block) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureThreshold, err)
	}

	var signed atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.Workers > 0 {
		g.SetLimit(c.cfg.Workers)
	}
	for _, v := range c.validators {
		g.Go(func() error {
			if signed.Load() || gctx.Err() != nil {
				return nil
			}
			sig, err := c.crypto.Sign(b.Hash(), v.Keys.PrivateKey)
			if err != nil {
				return fmt.Errorf("validator %d: %w", v.ID, err)
			}
			ok, err := c.crypto.Verify(b.Hash(), sig, v.Keys.PublicKey)
			if err != nil {
				return fmt.Errorf("validator %d: %w", v.ID, err)
			}
			if !ok {
				c.log.Warn("Rejected validator signature", "validator", v.ID, "block", b.Number())
				return c.registry.RecordViolation(v.ID)
			}
			if !b.SignBlock(sig) || b.VerifySignatures() {
				signed.Store(true)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !b.VerifySignatures() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %d of %d: %w", ErrSignatureThreshold, b.SignatureCount(), b.RequiredSignatures(), err)
		}
		return fmt.Errorf("%w: %d of %d", ErrSignatureThreshold, b.SignatureCount(), b.RequiredSignatures())
	}
	c.log.Debug("Block verified with enough signatures", "block", b.Number(), "signatures", b.SignatureCount())
	return nil
}

// FinalizeBlock appends a verified block to the ledger and announces it to
// every active peer. Broadcast failures are reported wrapped in ErrNetwork
// after the block is already part of the chain.
func (c *Coordinator) FinalizeBlock(ctx context.Context, b *Block) error {
	if !b.VerifySignatures() {
		return fmt.Errorf("%w: %d of %d", ErrSignatureThreshold, b.SignatureCount(), b.RequiredSignatures())
	}
	if err := c.ledger.AddBlock(b); err != nil {
		return err
	}
	c.current = b
	c.log.Info("Finalized block", "block", b.Number(), "hash", b.Hash())

	if c.network == nil {
		return nil
	}
	msg := "Finalized block with hash: " + b.Hash()
	var errs []error
	for _, peer := range c.network.ActivePeers() {
		if err := c.network.SendMessage(ctx, peer, msg); err != nil {
			errs = append(errs, fmt.Errorf("peer %d: %w", peer, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: broadcast finalization: %w", ErrNetwork, errors.Join(errs...))
	}
	return nil
}

// ValidateAndSlash slashes every validator the registry finds suspicious.
func (c *Coordinator) ValidateAndSlash() {
	parallelFor(len(c.validators), c.cfg.Workers, func(lo, hi int) {
		for _, v := range c.validators[lo:hi] {
			suspicious, err := c.registry.DetectSuspicious(v.ID)
			if err != nil {
				c.log.Error("Failed to inspect validator", "validator", v.ID, "error", err)
				continue
			}
			if !suspicious {
				continue
			}
			if err := c.registry.ApplySlash(v.ID); err != nil {
				c.log.Error("Failed to slash validator", "validator", v.ID, "error", err)
				continue
			}
			c.log.Warn("Validator slashed", "validator", v.ID)
		}
	})
}

// DistributeRewards credits the current validator reward to every validator.
func (c *Coordinator) DistributeRewards() {
	reward := c.rewardForValidators
	parallelFor(len(c.validators), c.cfg.Workers, func(lo, hi int) {
		for _, v := range c.validators[lo:hi] {
			if err := c.registry.AddReward(v.ID, reward); err != nil {
				c.log.Error("Failed to reward validator", "validator", v.ID, "error", err)
			}
		}
	})
}

// Parameters returns the current slashing penalty and validator reward.
func (c *Coordinator) Parameters() (slashingPenalty, rewardForValidators float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slashingPenalty, c.rewardForValidators
}

// CurrentBlock is the last block this coordinator finalized, or nil.
func (c *Coordinator) CurrentBlock() *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
