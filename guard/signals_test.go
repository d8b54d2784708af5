package guard

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telguard/callblock/blacklist"
)

func TestNotifySignals_StopOnSIGTERM(t *testing.T) {
	g := New(newFakeModem(), blacklist.New(nil, nil), discardLogger())
	cleanup := NotifySignals(g, func() (*blacklist.Blacklist, error) {
		return nil, errors.New("not expected")
	})
	defer cleanup()

	require.NoError(t, signalSelf(syscall.SIGTERM))

	assert.Eventually(t, func() bool {
		return g.State() == StateStopping
	}, time.Second, 10*time.Millisecond)
}

func TestNotifySignals_ReloadOnSIGHUP(t *testing.T) {
	oldList := blacklist.New([]string{"2025"}, nil)
	newList := blacklist.New([]string{"3035"}, nil)
	g := New(newFakeModem(), oldList, discardLogger())
	cleanup := NotifySignals(g, func() (*blacklist.Blacklist, error) {
		return newList, nil
	})
	defer cleanup()

	require.NoError(t, signalSelf(syscall.SIGHUP))

	assert.Eventually(t, func() bool {
		return g.Blacklist() == newList
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateRunning, g.State())
}

func TestNotifySignals_FailedReloadKeepsCurrentList(t *testing.T) {
	oldList := blacklist.New([]string{"2025"}, nil)
	g := New(newFakeModem(), oldList, discardLogger())
	reloaded := make(chan struct{}, 1)
	cleanup := NotifySignals(g, func() (*blacklist.Blacklist, error) {
		reloaded <- struct{}{}
		return nil, errors.New("config file vanished")
	})
	defer cleanup()

	require.NoError(t, signalSelf(syscall.SIGHUP))

	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("reload was not triggered")
	}
	time.Sleep(10 * time.Millisecond)
	assert.Same(t, oldList, g.Blacklist())
	assert.Equal(t, StateRunning, g.State())
}

func signalSelf(sig os.Signal) error {
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
