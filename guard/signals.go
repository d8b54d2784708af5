package guard

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/telguard/callblock/blacklist"
)

// NotifySignals wires process signals to the guard: SIGHUP rebuilds and
// republishes the blacklist via reload, SIGINT and SIGTERM request a stop.
// The signal path never touches modem I/O. The returned cleanup releases the
// handler and waits for its goroutine to finish.
func NotifySignals(g *Guard, reload func() (*blacklist.Blacklist, error)) (cleanup func()) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				g.log.Info("received SIGHUP, updating blacklist")
				bl, err := reload()
				if err != nil {
					g.log.Error("blacklist reload failed, keeping current list", "error", err)
					continue
				}
				g.Reload(bl)
			case syscall.SIGINT, syscall.SIGTERM:
				g.log.Info("received stop signal", "signal", sig.String())
				g.Stop()
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(sigCh)
		<-done
	}
}
