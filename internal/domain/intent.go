package domain

// Intent classifies what a user turn is asking for.
// The classification gates whether allocation extraction runs at all:
// informational turns must never mutate the allocation map.
type Intent int

const (
	// IntentInformational marks turns that query capabilities or state
	// ("which pins are 5V tolerant?"). No extraction runs.
	IntentInformational Intent = iota

	// IntentConnection marks turns that commit hardware to pins
	// ("connect the MPU6050"). Extraction runs on the reply.
	IntentConnection
)

// String returns the wire-friendly name of the intent.
func (i Intent) String() string {
	switch i {
	case IntentConnection:
		return "connection"
	default:
		return "informational"
	}
}
