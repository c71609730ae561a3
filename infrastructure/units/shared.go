// Package units provides the turn-pipeline units of the pin-allocation
// engine. Each unit implements the ports.Unit interface and performs
// one pure transformation: intent classification, tiered candidate
// extraction, allocation reconciliation, or incompleteness detection.
package units

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-pinwire/internal/domain"
)

// Common errors returned by pipeline units.
var (
	// ErrEmptyUnitName is returned when attempting to create a unit
	// with an empty name.
	ErrEmptyUnitName = errors.New("unit name cannot be empty")
)

// newMissingStateErr reports a pipeline wiring fault: a unit ran before
// the state value it reads was produced.
func newMissingStateErr(unit, key string) error {
	return fmt.Errorf("unit %s: %w", unit,
		domain.NewStateError(key, "read", errors.New("value not present in state")))
}

// Package-level validator instance for configuration and payload
// validation. Uses go-playground/validator v10 struct tags.
var validate = validator.New()

// foldCaser is a package-level Unicode case folder for performance.
// This avoids creating a new caser for each string preparation.
var foldCaser = cases.Fold()

// devicePattern matches device-name tokens such as "MPU6050" or
// "HC05": an uppercase alphabetic prefix of length >= 2 followed by at
// least two digits, with an optional alphanumeric suffix ("DS18B20").
var devicePattern = regexp.MustCompile(`\b[A-Z]{2,}[0-9]{2,}[A-Z0-9]*\b`)

// pinTokenPattern matches canonical-looking pin tokens in prose,
// case-insensitive so "pb6" in model output is still found.
var pinTokenPattern = regexp.MustCompile(`(?i)\bP[A-H][0-9]{1,2}\b`)

// roleTokenPattern splits window text into short alphabetic tokens for
// role-vocabulary lookup.
var roleTokenPattern = regexp.MustCompile(`\b[A-Za-z]{2,9}\b`)

// roleVocabulary maps peripheral-role spellings found in prose to the
// canonical role labels used in allocations.
var roleVocabulary = map[string]string{
	"SCL":  "SCL",
	"SDA":  "SDA",
	"SCK":  "SCK",
	"SCLK": "SCK",
	"MOSI": "MOSI",
	"MISO": "MISO",
	"CS":   "CS",
	"SS":   "CS",
	"NSS":  "CS",
	"TX":   "TX",
	"TXD":  "TX",
	"RX":   "RX",
	"RXD":  "RX",
	"PWM":  "PWM",
	"ADC":  "ADC",
	"DAC":  "DAC",
	"INT":  "INT",
	"IRQ":  "INT",
	"RST":  "RST",
	"EN":   "EN",
}

// DefaultRole is the peripheral-role label assigned when the heuristic
// tier finds no role token near a pin mention.
const DefaultRole = "GPIO"

// firstDeviceName returns the first device-name token in the text, or
// an empty string. Tokens that parse as pin identifiers are skipped so
// a bare "PB12" is never mistaken for a device.
func firstDeviceName(text string) string {
	for _, match := range devicePattern.FindAllString(text, -1) {
		if _, err := domain.ParsePinID(match); err == nil {
			continue
		}
		return match
	}
	return ""
}

// containsAny reports whether the folded haystack contains any of the
// given folded markers.
func containsAny(folded string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	return false
}
