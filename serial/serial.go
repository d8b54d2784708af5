// Package serial opens and configures the serial line of a caller-ID capable
// modem.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"github.com/telguard/callblock/modem"
)

var (
	ErrNoModemFound = errors.New("no modem device found")
)

const initTimeout = 30 * time.Second

// Open opens the modem device, configures the line discipline, and arms
// caller-ID reporting. The returned modem is ready to report incoming calls.
func Open(portName string) (*modem.Modem, error) {
	device, err := openSerial(portName)
	if err != nil {
		return nil, err
	}

	m := modem.New(device)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := m.Reset(ctx); err != nil {
		m.Close()
		return nil, fmt.Errorf("arm caller-ID reporting on %s: %w", portName, err)
	}
	return m, nil
}

func openSerial(portName string) (io.ReadWriteCloser, error) {
	if err := validatePort(portName); err != nil {
		return nil, err
	}

	portConfig := serial.OpenOptions{
		PortName:          portName,
		BaudRate:          1200,
		DataBits:          8,
		StopBits:          1,
		ParityMode:        serial.PARITY_NONE,
		RTSCTSFlowControl: true,
		// a read returns once 80 bytes accumulated or 0.1s passed since the
		// last received byte, caller-ID reports arrive in bursts
		MinimumReadSize:       80,
		InterCharacterTimeout: 100,
	}

	device, err := serial.Open(portConfig)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	return device, nil
}

func validatePort(portName string) error {
	info, err := os.Stat(portName)
	if err != nil {
		return fmt.Errorf("stat %s: %w", portName, err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return fmt.Errorf("%s is not a character device", portName)
	}
	return nil
}
