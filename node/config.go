package node

import (
	"errors"
	"fmt"
	"time"
)

// Config holds everything needed to start a node.
type Config struct {
	NodeID     uint64
	ListenAddr string
	// APIAddr is where the HTTP API listens. Empty disables the API listener.
	APIAddr string

	Participants       int
	Validators         int
	Difficulty         uint64
	RequiredSignatures int
	Interval           time.Duration
	RoundTimeout       time.Duration
	Workers            int

	// DataDir holds the LevelDB chain store. Empty keeps the chain in memory.
	DataDir string
	Peers   map[uint64]string
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         "127.0.0.1:9000",
		APIAddr:            "127.0.0.1:8081",
		Participants:       10,
		Validators:         5,
		Difficulty:         3,
		RequiredSignatures: 2,
		Interval:           10 * time.Second,
		RoundTimeout:       2 * time.Second,
		Peers:              make(map[uint64]string),
	}
}

// Validate reports every invalid field, joined.
func (c Config) Validate() error {
	var errs []error
	if c.Participants <= 0 {
		errs = append(errs, fmt.Errorf("participants must be positive, got %d", c.Participants))
	}
	if c.Validators <= 0 || c.Validators > c.Participants {
		errs = append(errs, fmt.Errorf("validators must be in [1, %d], got %d", c.Participants, c.Validators))
	}
	if c.RequiredSignatures <= 0 {
		errs = append(errs, fmt.Errorf("required signatures must be positive, got %d", c.RequiredSignatures))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.RoundTimeout < 0 {
		errs = append(errs, fmt.Errorf("round timeout must not be negative, got %s", c.RoundTimeout))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if _, ok := c.Peers[c.NodeID]; ok {
		errs = append(errs, fmt.Errorf("peer list contains own id %d", c.NodeID))
	}
	return errors.Join(errs...)
}
