// Package guard runs the call-blocking loop and reacts to reload and stop
// requests arriving from the outside.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telguard/callblock/blacklist"
	"github.com/telguard/callblock/modem"
)

// commandTimeout bounds each modem command of the block sequence so an
// unresponsive modem cannot wedge the loop.
const commandTimeout = 5 * time.Second

// State of the call-blocking loop.
type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Modem is the subset of the modem driver the loop needs.
type Modem interface {
	WaitForCall(ctx context.Context) (*modem.Call, error)
	Pickup(ctx context.Context) error
	Hangup(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Guard owns the call-blocking loop. The modem is touched only from within
// Run; Stop and Reload are safe to call from a signal handling goroutine.
type Guard struct {
	modem Modem
	log   *slog.Logger

	snapshot atomic.Pointer[blacklist.Blacklist]
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a guard for the given modem with an initial blacklist.
func New(m Modem, bl *blacklist.Blacklist, log *slog.Logger) *Guard {
	g := &Guard{
		modem: m,
		log:   log,
		stop:  make(chan struct{}),
	}
	g.snapshot.Store(bl)
	g.state.Store(int32(StateRunning))
	return g
}

// State returns the loop's current state.
func (g *Guard) State() State {
	return State(g.state.Load())
}

// Blacklist returns the currently published snapshot.
func (g *Guard) Blacklist() *blacklist.Blacklist {
	return g.snapshot.Load()
}

// Reload publishes a new blacklist snapshot with a single pointer swap. The
// loop observes either the old or the new complete list, never a mix.
func (g *Guard) Reload(bl *blacklist.Blacklist) {
	if bl == nil {
		return
	}
	g.snapshot.Store(bl)
	g.log.Info("blacklist updated", "numbers", bl.NumberCount(), "names", bl.NameCount())
}

// Stop requests a graceful exit. The decision cycle in flight runs to
// completion, no new wait is started.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(g.stop)
	})
}

// Run drives wait → parse → match → block until the device closes or a stop
// is requested. The terminal state is always StateStopped; the caller
// performs modem teardown afterwards.
func (g *Guard) Run(ctx context.Context) {
	defer g.state.Store(int32(StateStopped))

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for g.State() == StateRunning {
		call, err := g.modem.WaitForCall(waitCtx)
		switch {
		case errors.Is(err, modem.ErrClosed):
			g.log.Info("modem channel closed")
			return
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
			continue
		case err != nil:
			// protocol violation or transport hiccup, skip this event
			g.log.Warn("dropping unusable caller-ID event", "error", err)
			continue
		}
		if g.State() != StateRunning {
			break
		}

		g.log.Info("received call", "number", call.Number, "name", call.Name, "time", call.Time)

		match, blocked := g.snapshot.Load().Match(call.Number, call.Name)
		if !blocked {
			continue
		}
		g.log.Info("blocking call", "number", call.Number, "name", call.Name, "entry", match.Entry, "field", match.Field)
		g.block()
	}
}

// block runs pickup, hangup, reset in order. Every step is attempted even
// when a previous one failed; failures are logged and the loop carries on.
func (g *Guard) block() {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"pickup", g.modem.Pickup},
		{"hangup", g.modem.Hangup},
		{"reset", g.modem.Reset},
	}
	for _, step := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		if err := step.run(ctx); err != nil {
			g.log.Error("block step failed", "step", step.name, "error", err)
		}
		cancel()
	}
}
