package peer

import (
	"context"
	"math/rand"
	"slotarbiter/internal/arbiter"
	"slotarbiter/internal/logging"
	"time"
)

// Driver is the demand side of a peer: it thinks for a while, acquires a slot, uses it for a while and releases it, over and over.
type Driver struct {
	log     *logging.Logger
	arbiter arbiter.Arbiter
	think   Interval
	use     Interval
	rounds  int
	rng     *rand.Rand
}

// NewDriver creates a driver issuing demands to a. A rounds of 0 means the driver runs until its context is done.
func NewDriver(log *logging.Logger, a arbiter.Arbiter, think Interval, use Interval, rounds int) *Driver {
	return &Driver{
		log:     log,
		arbiter: a,
		think:   think,
		use:     use,
		rounds:  rounds,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run drives the arbiter until the configured rounds are done, ctx is done or the arbiter fails.
// Returns the number of completed rounds.
func (d *Driver) Run(ctx context.Context) (int, error) {
	completed := 0
	for d.rounds == 0 || completed < d.rounds {
		if err := sleep(ctx, d.think.Draw(d.rng)); err != nil {
			return completed, err
		}

		if err := d.round(ctx); err != nil {
			return completed, err
		}
		completed++
	}

	d.log.Infof("Done after %d rounds", completed)
	return completed, nil
}

func (d *Driver) round(ctx context.Context) error {
	slot, release, err := d.arbiter.Acquire(ctx)
	if err != nil {
		d.log.Warnf("Failed to acquire a slot: %v", err)
		return err
	}
	d.logReplica("Acquired slot", slot)

	// The slot is released even if ctx gets done while using it.
	useErr := sleep(ctx, d.use.Draw(d.rng))

	if err := release(); err != nil {
		d.log.Errorf("Failed to release slot %d: %v", slot, err)
		return err
	}
	d.logReplica("Released slot", slot)

	return useErr
}

func (d *Driver) logReplica(what string, slot arbiter.SlotID) {
	status, err := d.arbiter.Status()
	if err != nil {
		return
	}
	d.log.Infof("%s %d; replica %s, clock %d", what, slot, status.Replica, status.Clock)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
