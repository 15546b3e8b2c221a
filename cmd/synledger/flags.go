package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/SynergyChain/synledger-core/node"
)

const (
	NodeIDKey             = "node-id"
	PortKey               = "port"
	AddressKey            = "address"
	APIAddrKey            = "api-addr"
	ParticipantsKey       = "participants"
	ValidatorsKey         = "validators"
	DifficultyKey         = "difficulty"
	RequiredSignaturesKey = "required-signatures"
	IntervalKey           = "interval"
	RoundTimeoutKey       = "round-timeout"
	WorkersKey            = "workers"
	DataDirKey            = "data-dir"
	PeerKey               = "peer"

	LogLevelKey  = "log-level"
	LogFormatKey = "log-format"
)

// AddFlags registers the node flags on flags.
func AddFlags(flags *pflag.FlagSet) {
	defaults := node.DefaultConfig()
	flags.Uint64(NodeIDKey, 0, "Identifier of this node on the peer network")
	flags.Uint16(PortKey, 9000, "Port to accept peer connections on")
	flags.String(AddressKey, "127.0.0.1", "Address to accept peer connections on")
	flags.String(APIAddrKey, defaults.APIAddr, "Address of the HTTP API, empty to disable")
	flags.Int(ParticipantsKey, defaults.Participants, "Number of registry participants")
	flags.Int(ValidatorsKey, defaults.Validators, "Number of block signing validators")
	flags.Uint64(DifficultyKey, defaults.Difficulty, "Difficulty added per fork block")
	flags.Int(RequiredSignaturesKey, defaults.RequiredSignatures, "Signatures needed to finalize a block")
	flags.Duration(IntervalKey, defaults.Interval, "Time between consensus rounds")
	flags.Duration(RoundTimeoutKey, defaults.RoundTimeout, "Deadline for signature collection, 0 to disable")
	flags.Int(WorkersKey, 0, "Worker pool size, 0 for GOMAXPROCS")
	flags.String(DataDirKey, "", "Directory of the chain database, empty keeps the chain in memory")
	flags.StringArray(PeerKey, nil, "Peer to announce blocks to as id=host:port (repeatable)")
}

// ParseFlags parses args and builds a node configuration from flags.
func ParseFlags(flags *pflag.FlagSet, args []string) (*node.Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg := node.DefaultConfig()
	var err error
	if cfg.NodeID, err = flags.GetUint64(NodeIDKey); err != nil {
		return nil, err
	}
	port, err := flags.GetUint16(PortKey)
	if err != nil {
		return nil, err
	}
	address, err := flags.GetString(AddressKey)
	if err != nil {
		return nil, err
	}
	cfg.ListenAddr = fmt.Sprintf("%s:%d", address, port)
	if cfg.APIAddr, err = flags.GetString(APIAddrKey); err != nil {
		return nil, err
	}
	if cfg.Participants, err = flags.GetInt(ParticipantsKey); err != nil {
		return nil, err
	}
	if cfg.Validators, err = flags.GetInt(ValidatorsKey); err != nil {
		return nil, err
	}
	if cfg.Difficulty, err = flags.GetUint64(DifficultyKey); err != nil {
		return nil, err
	}
	if cfg.RequiredSignatures, err = flags.GetInt(RequiredSignaturesKey); err != nil {
		return nil, err
	}
	if cfg.Interval, err = flags.GetDuration(IntervalKey); err != nil {
		return nil, err
	}
	if cfg.RoundTimeout, err = flags.GetDuration(RoundTimeoutKey); err != nil {
		return nil, err
	}
	if cfg.Workers, err = flags.GetInt(WorkersKey); err != nil {
		return nil, err
	}
	if cfg.DataDir, err = flags.GetString(DataDirKey); err != nil {
		return nil, err
	}

	peers, err := flags.GetStringArray(PeerKey)
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		id, addr, err := parsePeer(p)
		if err != nil {
			return nil, err
		}
		cfg.Peers[id] = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parsePeer splits "id=host:port".
func parsePeer(s string) (uint64, string, error) {
	idStr, addr, ok := strings.Cut(s, "=")
	if !ok || addr == "" {
		return 0, "", fmt.Errorf("peer %q: want id=host:port", s)
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("peer %q: invalid id: %w", s, err)
	}
	return id, addr, nil
}

// AddLogFlags registers the logging flags on flags.
func AddLogFlags(flags *pflag.FlagSet) {
	flags.String(LogLevelKey, "info", "Log level: debug, info, warn or error")
	flags.String(LogFormatKey, "json", "Log format: json or text")
}

// LogConfig holds the parsed logging flags.
type LogConfig struct {
	Level  slog.Level
	Format string
}

// ParseLogFlags reads the logging flags.
func ParseLogFlags(flags *pflag.FlagSet) (*LogConfig, error) {
	levelStr, err := flags.GetString(LogLevelKey)
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", LogLevelKey, err)
	}
	format, err := flags.GetString(LogFormatKey)
	if err != nil {
		return nil, err
	}
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("invalid %s %q: want json or text", LogFormatKey, format)
	}
	return &LogConfig{Level: level, Format: format}, nil
}
