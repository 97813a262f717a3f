package tcp

import (
	"context"
	"fmt"
	"net"
	"slotarbiter/internal/logging"
	"slotarbiter/internal/utils"
)

var greeting = []byte("greeting")

// remote is the outbound side of the link to another peer. A single goroutine owns the connection and writes the queued send requests one after the other, which is what gives per-pair FIFO delivery.
//
// The connection is established lazily on the first send, and re-established on the next send after a write failure. Messages whose write failed are reported to their sender and not retried.
type remote struct {
	logger *logging.Logger

	selfAddr   address
	remoteAddr address
	policy     utils.RetryPolicy

	sendRequests *utils.BufferedChan[sendRequest]
}

func newRemote(ctx context.Context, logger *logging.Logger, selfAddr address, remoteAddr address, policy utils.RetryPolicy) *remote {
	logger = logger.WithPostfix(fmt.Sprintf("(%v)", remoteAddr.Port))
	logger.Infof("Creating new remote for %s", remoteAddr)

	r := remote{
		logger:       logger,
		selfAddr:     selfAddr,
		remoteAddr:   remoteAddr,
		policy:       policy,
		sendRequests: utils.NewBufferedChan[sendRequest](),
	}

	go r.sequentializeSends(ctx)

	return &r
}

// Dials the remote and introduces ourselves with our listening address.
func (r *remote) connect(ctx context.Context) (connCodec, error) {
	var conn net.Conn
	dialer := net.Dialer{}

	err := utils.RetryWithCutoff(ctx, r.logger, r.policy, func(try int) error {
		r.logger.Infof("Dialing TCP connection to %v (attempt %d)", r.remoteAddr, try+1)
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", r.remoteAddr.String())
		return err
	})
	if err != nil {
		return connCodec{}, fmt.Errorf("dial %v: %w", r.remoteAddr, err)
	}

	codec := newConnCodec(conn)
	if err := codec.SendMessage(message{Source: r.selfAddr, Payload: greeting}); err != nil {
		codec.Close()
		return connCodec{}, fmt.Errorf("greet %v: %w", r.remoteAddr, err)
	}

	r.logger.Info("Connection established to ", r.remoteAddr)
	return codec, nil
}

func (r *remote) sequentializeSends(ctx context.Context) {
	var codec *connCodec
	defer func() {
		if codec != nil {
			codec.Close()
		}
	}()

	for req := range r.sendRequests.Outlet() {
		if ctx.Err() != nil {
			req.err <- ErrClosed
			continue
		}

		if codec == nil {
			c, err := r.connect(ctx)
			if err != nil {
				r.logger.Error("Could not connect: ", err)
				req.err <- err
				continue
			}
			codec = &c
		}

		err := codec.SendMessage(message{Source: r.selfAddr, Payload: req.payload})
		if err != nil {
			r.logger.Error("Error encoding message in transport, dropping connection. ", err)
			codec.Close()
			codec = nil
		}
		req.err <- err
	}
}

func (r *remote) Close() {
	r.sendRequests.Close()
}
