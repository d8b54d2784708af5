package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telguard/callblock/blacklist"
	"github.com/telguard/callblock/modem"
)

func TestGuard_BlocksBlacklistedNumber(t *testing.T) {
	fake := newFakeModem()
	fake.deliver(&modem.Call{Number: "2025551234", Name: "JOHN DOE"})
	fake.closeChannel()
	g := New(fake, blacklist.New([]string{"2025"}, nil), discardLogger())

	g.Run(context.Background())

	assert.Equal(t, []string{"pickup", "hangup", "reset"}, fake.actionLog())
	assert.Equal(t, StateStopped, g.State())
}

func TestGuard_BlocksByNameSubstring(t *testing.T) {
	fake := newFakeModem()
	fake.deliver(&modem.Call{Number: "3035551234", Name: "ACME TELEMARKETER INC"})
	fake.closeChannel()
	g := New(fake, blacklist.New(nil, []string{"TELEMARKETER"}), discardLogger())

	g.Run(context.Background())

	assert.Equal(t, []string{"pickup", "hangup", "reset"}, fake.actionLog())
}

func TestGuard_EmptyBlacklistTakesNoAction(t *testing.T) {
	fake := newFakeModem()
	fake.deliver(&modem.Call{Number: "2025551234", Name: "JOHN DOE"})
	fake.closeChannel()
	g := New(fake, blacklist.New(nil, nil), discardLogger())

	g.Run(context.Background())

	assert.Empty(t, fake.actionLog())
	assert.Equal(t, StateStopped, g.State())
}

func TestGuard_SkipsUnusableEvents(t *testing.T) {
	fake := newFakeModem()
	fake.fail(&modem.ProtocolError{Payload: "GARBAGE", Reason: "expected KEY = VALUE"})
	fake.deliver(&modem.Call{Number: "2025551234", Name: "JOHN DOE"})
	fake.closeChannel()
	g := New(fake, blacklist.New([]string{"2025"}, nil), discardLogger())

	g.Run(context.Background())

	assert.Equal(t, []string{"pickup", "hangup", "reset"}, fake.actionLog())
}

func TestGuard_BlockSequenceSurvivesStepFailures(t *testing.T) {
	fake := newFakeModem()
	fake.commandErr["pickup"] = errors.New("no OK within 10 responses")
	fake.commandErr["hangup"] = errors.New("no OK within 10 responses")
	fake.deliver(&modem.Call{Number: "2025551234", Name: "JOHN DOE"})
	fake.closeChannel()
	g := New(fake, blacklist.New([]string{"2025"}, nil), discardLogger())

	g.Run(context.Background())

	assert.Equal(t, []string{"pickup", "hangup", "reset"}, fake.actionLog())
}

func TestGuard_StopEndsLoop(t *testing.T) {
	fake := newFakeModem()
	g := New(fake, blacklist.New(nil, nil), discardLogger())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		g.Run(context.Background())
	}()

	require.Equal(t, StateRunning, g.State())
	g.Stop()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, StateStopped, g.State())
}

func TestGuard_ClosedModemStopsLoop(t *testing.T) {
	fake := newFakeModem()
	fake.closeChannel()
	g := New(fake, blacklist.New(nil, nil), discardLogger())

	g.Run(context.Background())

	assert.Equal(t, StateStopped, g.State())
}

func TestGuard_ParentContextCancelStopsLoop(t *testing.T) {
	fake := newFakeModem()
	g := New(fake, blacklist.New(nil, nil), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		g.Run(ctx)
	}()

	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, StateStopped, g.State())
}

func TestGuard_ReloadSwapsAtomically(t *testing.T) {
	fake := newFakeModem()
	listA := blacklist.New([]string{"2025"}, nil)
	listB := blacklist.New(nil, []string{"ZEBRA"})
	g := New(fake, listA, discardLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if i%2 == 0 {
				g.Reload(listB)
			} else {
				g.Reload(listA)
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		match, blocked := g.Blacklist().Match("2025551234", "JOHN DOE")
		// either complete snapshot: A blocks on the number, B not at all
		if blocked {
			assert.Equal(t, "2025", match.Entry)
			assert.Equal(t, "number", match.Field)
		}
	}
	wg.Wait()
}

func TestGuard_ReloadIgnoresNil(t *testing.T) {
	bl := blacklist.New([]string{"2025"}, nil)
	g := New(newFakeModem(), bl, discardLogger())

	g.Reload(nil)

	assert.Same(t, bl, g.Blacklist())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Stopping", StateStopping.String())
	assert.Equal(t, "Stopped", StateStopped.String())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type waitResult struct {
	call *modem.Call
	err  error
}

// fakeModem yields queued wait results and records the commands it receives.
type fakeModem struct {
	events     chan waitResult
	commandErr map[string]error

	mu      sync.Mutex
	actions []string
}

func newFakeModem() *fakeModem {
	return &fakeModem{
		events:     make(chan waitResult, 16),
		commandErr: make(map[string]error),
	}
}

func (f *fakeModem) deliver(call *modem.Call) {
	f.events <- waitResult{call: call}
}

func (f *fakeModem) fail(err error) {
	f.events <- waitResult{err: err}
}

func (f *fakeModem) closeChannel() {
	close(f.events)
}

func (f *fakeModem) WaitForCall(ctx context.Context) (*modem.Call, error) {
	select {
	case result, valid := <-f.events:
		if !valid {
			return nil, modem.ErrClosed
		}
		return result.call, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeModem) Pickup(ctx context.Context) error {
	return f.record("pickup")
}

func (f *fakeModem) Hangup(ctx context.Context) error {
	return f.record("hangup")
}

func (f *fakeModem) Reset(ctx context.Context) error {
	return f.record("reset")
}

func (f *fakeModem) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, name)
	return f.commandErr[name]
}

func (f *fakeModem) actionLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}
