// Package modem drives a Hayes-compatible caller-ID modem. It sends AT
// commands with bounded acknowledgment scanning and turns the modem's
// unsolicited caller-ID reports into Call records.
package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"
)

const (
	// MaxRead matches the largest chunk the modem emits in one burst.
	MaxRead = 255
	// ackAttempts bounds how many response lines Send scans for an OK.
	ackAttempts = 10

	closeTimeout = 2 * time.Second
)

// The AT command set used to control the modem.
const (
	cmdReset    = "ATZ"
	cmdCallerID = "AT+VCID=1"
	cmdPickup   = "ATH1"
	cmdHangup   = "ATH0"
)

// ErrClosed is returned when the modem device was closed or hit a fatal I/O
// condition.
var ErrClosed = errors.New("modem device closed")

// New creates a new Modem using the given io.ReadWriteCloser to communicate
// with the device. All reads happen in a background goroutine; the channel it
// feeds is consumed by exactly one caller at a time.
func New(device io.ReadWriteCloser) *Modem {
	return &Modem{
		device: device,
		chunks: readChunks(device),
	}
}

// Modem owns the serial device of a caller-ID capable modem.
type Modem struct {
	device io.ReadWriteCloser
	chunks <-chan []byte
}

// readChunks delivers the raw read bursts of the device on a channel. A read
// interrupted by a delivered signal is retried transparently; EOF or any
// other read failure closes the channel.
func readChunks(r io.Reader) <-chan []byte {
	chunks := make(chan []byte, 1)
	go func() {
		defer close(chunks)
		buf := make([]byte, MaxRead)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err != nil && !errors.Is(err, syscall.EINTR) {
				return
			}
		}
	}()
	return chunks
}

// Send writes an AT command to the modem and scans its responses for the OK
// token. A carriage return is appended if the command lacks a line
// terminator. A short write is a hard failure. At most ackAttempts response
// lines are considered before the command counts as failed.
func (m *Modem) Send(ctx context.Context, cmd string) error {
	name := strings.TrimSpace(cmd)
	if !strings.HasSuffix(cmd, "\r") && !strings.HasSuffix(cmd, "\n") {
		cmd += "\r"
	}

	n, err := m.device.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if n < len(cmd) {
		return fmt.Errorf("%s: %w", name, io.ErrShortWrite)
	}

	for attempt := 0; attempt < ackAttempts; attempt++ {
		response, err := m.readResponse(ctx)
		if bytes.Contains(response, []byte("OK")) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return fmt.Errorf("%s: no OK within %d responses", name, ackAttempts)
}

// readResponse accumulates bytes until a line terminator arrives or the
// device is closed. Whatever accumulated so far is returned alongside the
// error so the caller can still scan it.
func (m *Modem) readResponse(ctx context.Context) ([]byte, error) {
	var response []byte
	for {
		select {
		case chunk, valid := <-m.chunks:
			if !valid {
				return response, ErrClosed
			}
			response = append(response, chunk...)
			if last := response[len(response)-1]; last == '\r' || last == '\n' {
				return response, nil
			}
		case <-ctx.Done():
			return response, ctx.Err()
		}
	}
}

// Reset restores the modem's defaults and arms caller-ID reporting. Both
// commands must be acknowledged.
func (m *Modem) Reset(ctx context.Context) error {
	if err := m.Send(ctx, cmdReset); err != nil {
		return err
	}
	return m.Send(ctx, cmdCallerID)
}

// Pickup takes the line off-hook.
func (m *Modem) Pickup(ctx context.Context) error {
	return m.Send(ctx, cmdPickup)
}

// Hangup puts the line back on-hook.
func (m *Modem) Hangup(ctx context.Context) error {
	return m.Send(ctx, cmdHangup)
}

// Close resets the modem on a best-effort basis and releases the device
// unconditionally.
func (m *Modem) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = m.Send(ctx, cmdReset)
	_ = m.device.Close()
}

// WaitForCall blocks until the modem reports an incoming call and returns
// its Call record. RING lines and the echoed caller-ID command carry no
// payload and never produce a call. A malformed report yields a
// *ProtocolError, a closed device yields ErrClosed, a cancelled context its
// cause. WaitForCall produces at most one call per invocation; invoke it in
// a loop to drain subsequent events.
func (m *Modem) WaitForCall(ctx context.Context) (*Call, error) {
	for {
		select {
		case chunk, valid := <-m.chunks:
			if !valid {
				return nil, ErrClosed
			}
			data := decodePayload(chunk)
			// RING and the echoed caller-ID command carry no call data
			if strings.Contains(data, "RING") || strings.Contains(data, cmdCallerID) {
				continue
			}
			lines := splitLines(data)
			if len(lines) == 0 {
				continue
			}
			return parseCall(lines, time.Now())
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// splitLines splits a decoded chunk into its non-empty lines.
func splitLines(data string) []string {
	rawLines := strings.FieldsFunc(data, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	lines := make([]string, 0, len(rawLines))
	for _, line := range rawLines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
