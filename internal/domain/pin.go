// Package domain contains pure, dependency-free domain models and types
// for the pin-allocation engine.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Pin identifier grammar constants for the target microcontroller family.
// Ports run A through H and each port exposes pins 0 through 15.
const (
	// MinPinNumber is the lowest valid pin number within a port.
	MinPinNumber = 0

	// MaxPinNumber is the highest valid pin number within a port.
	MaxPinNumber = 15
)

// validPorts is the fixed set of port letters the pinout exposes.
const validPorts = "ABCDEFGH"

// PinID is a canonical identifier for a physical microcontroller pin,
// for example "PB6". The canonical form is uppercase with no leading
// zero in the pin number, so "pb06" and "PB6" parse to the same PinID.
// PinID is an immutable value type; construct it only via ParsePinID.
type PinID string

// ParsePinID normalizes a raw pin token into its canonical PinID.
// The token must match "P" followed by a valid port letter and a one or
// two digit pin number, case-insensitive. Tokens that fail the grammar
// return ErrMalformedPin; callers are expected to drop such tokens
// rather than fail the surrounding operation.
func ParsePinID(raw string) (PinID, error) {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if len(token) < 3 || len(token) > 4 {
		return "", fmt.Errorf("%w: %q", ErrMalformedPin, raw)
	}
	if token[0] != 'P' {
		return "", fmt.Errorf("%w: %q must start with 'P'", ErrMalformedPin, raw)
	}

	port := token[1]
	if !strings.ContainsRune(validPorts, rune(port)) {
		return "", fmt.Errorf("%w: %q has unknown port letter %q", ErrMalformedPin, raw, string(port))
	}

	number, err := strconv.Atoi(token[2:])
	if err != nil {
		return "", fmt.Errorf("%w: %q has non-numeric pin number", ErrMalformedPin, raw)
	}
	if number < MinPinNumber || number > MaxPinNumber {
		return "", fmt.Errorf("%w: %q pin number %d outside [%d, %d]",
			ErrMalformedPin, raw, number, MinPinNumber, MaxPinNumber)
	}

	return PinID(fmt.Sprintf("P%c%d", port, number)), nil
}

// MustPinID parses a pin token and panics on failure.
// It is intended for tests and static tables where the token is known
// to be valid at compile time.
func MustPinID(raw string) PinID {
	pin, err := ParsePinID(raw)
	if err != nil {
		panic(err)
	}
	return pin
}

// Port returns the port letter of the pin, e.g. 'B' for "PB6".
func (p PinID) Port() byte { return p[1] }

// Number returns the pin number within its port, e.g. 6 for "PB6".
func (p PinID) Number() int {
	n, _ := strconv.Atoi(string(p[2:]))
	return n
}

// String returns the canonical textual form of the pin identifier.
func (p PinID) String() string { return string(p) }
