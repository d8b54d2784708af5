//go:build !linux

package serial

func FindModemPortName() (string, error) {
	// autodetection is only implemented for Linux
	return "", ErrNoModemFound
}
