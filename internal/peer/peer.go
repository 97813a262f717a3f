// Package peer assembles a complete participant of the slot arbitration: configuration, transport, arbiter and the driver issuing demands.
package peer

import (
	"context"
	"fmt"
	"os"
	"slotarbiter/internal/arbiter"
	"slotarbiter/internal/logging"
	"slotarbiter/internal/transport"
	"slotarbiter/internal/transport/tcp"
	"sync"
)

// Peer is one of the symmetric participants sharing the pool of slots.
type Peer struct {
	logger  *logging.Logger
	logFile *logging.LogFile
	config  *Config

	network transport.NetworkInterface
	wrapper *arbiterNetworkWrapper
	arbiter arbiter.Arbiter
	driver  *Driver

	closeOnce   sync.Once
	ownsNetwork bool
}

/*
NewPeer constructs a peer communicating over TCP, as described by config.
Logs go to the standard output in debug mode, and to <LogPath>/peer-<rank>.log when a log path is configured.
*/
func NewPeer(config *Config) (*Peer, error) {
	var logFile *logging.LogFile
	if config.LogPath != "" {
		var err error
		logFile, err = logging.NewLogFile(fmt.Sprintf("%s/peer-%d.log", config.LogPath, config.Rank))
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
	}

	log := logging.NewLogger(os.Stdout, logFile, fmt.Sprintf("peer(%d)", config.Rank), !config.Debug && logFile != nil)
	log.Infof("Starting peer %v at %v", config.Rank, config.Addr())

	network, err := tcp.NewTCP(config.Addr(), log.WithPostfix("tcp"))
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}

	p := NewPeerWithNetwork(log, config, network, nil)
	p.logFile = logFile
	p.ownsNetwork = true

	return p, nil
}

/*
NewPeerWithNetwork constructs a peer from an existing network interface, which the peer does not close.
  - log: The logger instance to use.
  - config: The configuration of the peer.
  - network: The network interface, listening on config.Addr().
  - observer: Receives the events of the arbiter. May be nil.
*/
func NewPeerWithNetwork(log *logging.Logger, config *Config, network transport.NetworkInterface, observer arbiter.Observer) *Peer {
	p := &Peer{
		logger:  log,
		config:  config,
		network: network,
	}

	p.wrapper = newArbiterNetworkWrapper(log.WithPostfix("net"), network, config.Rank, config.Peers)
	p.arbiter = arbiter.NewArbiter(
		log.WithPostfix("arbiter"),
		p.wrapper.netWrapper(),
		config.Rank,
		len(config.Peers),
		config.Slots,
		arbiter.Options{
			Backoff:         config.Backoff,
			ResponseTimeout: config.ResponseTimeout,
			Observer:        observer,
		},
	)
	p.driver = NewDriver(log.WithPostfix("driver"), p.arbiter, config.Think, config.Use, config.Rounds)

	return p
}

// Arbiter returns the arbiter of the peer.
func (p *Peer) Arbiter() arbiter.Arbiter {
	return p.arbiter
}

// Run issues demands until the configured rounds are done or ctx is done. The peer keeps answering the other peers until it is closed.
func (p *Peer) Run(ctx context.Context) (int, error) {
	p.logger.Infof("Running %d rounds on %d slots with %d peers", p.config.Rounds, p.config.Slots, len(p.config.Peers))
	return p.driver.Run(ctx)
}

// Close stops the arbiter and releases the resources of the peer.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.logger.Info("Closing peer")
		p.arbiter.Close()
		p.wrapper.close()

		if p.ownsNetwork {
			// Networks handed over by the caller are closed by the caller.
			p.network.Close()
		}
		if p.logFile != nil {
			p.logFile.Close()
		}
	})
}
