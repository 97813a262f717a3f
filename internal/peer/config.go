package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"slotarbiter/internal/arbiter"
	"slotarbiter/internal/transport"
	"slotarbiter/internal/utils"
	"strconv"
	"time"
)

// ErrInvalidConfig is returned when the arguments or the configuration file do not describe a usable peer.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigFile represents the JSON configuration file, shared by every peer of the group.
type ConfigFile struct {
	Debug   bool
	LogPath string
	// Listening addresses of the peers. The index of an address is the rank of its peer.
	Peers []string
	Slots int
	// Acquisitions before the peer stops; 0 means forever.
	Rounds            int    `json:"Rounds,omitempty"`
	ThinkMinMs        uint32 `json:"ThinkMinMs,omitempty"`
	ThinkMaxMs        uint32 `json:"ThinkMaxMs,omitempty"`
	UseMinMs          uint32 `json:"UseMinMs,omitempty"`
	UseMaxMs          uint32 `json:"UseMaxMs,omitempty"`
	BackoffMs         uint32 `json:"BackoffMs,omitempty"`
	ResponseTimeoutMs uint32 `json:"ResponseTimeoutMs,omitempty"`
}

// Config represents the configuration of one peer, parsed from the JSON configuration file.
type Config struct {
	Debug   bool
	LogPath string
	Rank    arbiter.Rank
	Peers   []transport.Address
	Slots   int
	Rounds  int
	Think   Interval
	Use     Interval
	Backoff time.Duration
	// Zero disables the timeout.
	ResponseTimeout time.Duration
}

// Addr returns the listening address of the configured peer.
func (c *Config) Addr() transport.Address {
	return c.Peers[c.Rank]
}

// Interval is a range of durations from which random delays are drawn.
type Interval struct {
	Min time.Duration
	Max time.Duration
}

func millis(lo, hi uint32) Interval {
	return Interval{Min: time.Duration(lo) * time.Millisecond, Max: time.Duration(hi) * time.Millisecond}
}

// Draw returns a random duration in [Min, Max].
func (i Interval) Draw(rng *rand.Rand) time.Duration {
	if i.Max <= i.Min {
		return i.Min
	}
	return i.Min + time.Duration(rng.Int63n(int64(i.Max-i.Min)+1))
}

// NewConfig creates a new peer configuration from the given arguments: <rank> <config_file>.
func NewConfig(args []string) (*Config, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: not enough arguments. Usage: <rank> <config_file>", ErrInvalidConfig)
	}

	rank, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: rank %q: %v", ErrInvalidConfig, args[0], err)
	}

	file, err := readConfigFile(args[1])
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, args[1], err)
	}

	return parseConfig(file, arbiter.Rank(rank))
}

func parseConfig(file *ConfigFile, rank arbiter.Rank) (*Config, error) {
	if len(file.Peers) == 0 {
		return nil, fmt.Errorf("%w: no peers", ErrInvalidConfig)
	}
	if int(rank) >= len(file.Peers) {
		return nil, fmt.Errorf("%w: rank %d out of %d peers", ErrInvalidConfig, rank, len(file.Peers))
	}
	if file.Slots <= 0 {
		return nil, fmt.Errorf("%w: %d slots", ErrInvalidConfig, file.Slots)
	}
	if file.Rounds < 0 {
		return nil, fmt.Errorf("%w: %d rounds", ErrInvalidConfig, file.Rounds)
	}
	if file.ThinkMinMs > file.ThinkMaxMs || file.UseMinMs > file.UseMaxMs {
		return nil, fmt.Errorf("%w: minimum delay above maximum", ErrInvalidConfig)
	}

	peers := make([]transport.Address, len(file.Peers))
	for i, str := range file.Peers {
		addr, err := transport.NewAddress(str)
		if err != nil {
			return nil, fmt.Errorf("%w: peer %d: %v", ErrInvalidConfig, i, err)
		}
		peers[i] = addr
	}
	if utils.SliceHasDuplicates(peers) {
		return nil, fmt.Errorf("%w: duplicate peer addresses in %v", ErrInvalidConfig, peers)
	}

	backoff := arbiter.DefaultBackoff
	if file.BackoffMs > 0 {
		backoff = time.Duration(file.BackoffMs) * time.Millisecond
	}

	return &Config{
		Debug:           file.Debug,
		LogPath:         file.LogPath,
		Rank:            rank,
		Peers:           peers,
		Slots:           file.Slots,
		Rounds:          file.Rounds,
		Think:           millis(file.ThinkMinMs, file.ThinkMaxMs),
		Use:             millis(file.UseMinMs, file.UseMaxMs),
		Backoff:         backoff,
		ResponseTimeout: time.Duration(file.ResponseTimeoutMs) * time.Millisecond,
	}, nil
}

// Reads the configuration file and returns the parsed configuration
func readConfigFile(filename string) (*ConfigFile, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	var config ConfigFile
	err = decoder.Decode(&config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
