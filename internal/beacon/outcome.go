package beacon

// Outcome reports what a single flush did.
type Outcome int

const (
	// OutcomeSent means one event was removed and handed to the transport.
	OutcomeSent Outcome = iota
	// OutcomeEmpty means the queue had nothing to send.
	OutcomeEmpty
	// OutcomeUnavailable means the transport cannot send right now. Nothing
	// was removed; the event stays queued until a later flush.
	OutcomeUnavailable
	// OutcomeRefused means the transport declined the hand-off (for example
	// an oversized payload). The event was removed and is gone.
	OutcomeRefused
	// OutcomeDropped means the event could not be serialized and was discarded.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeEmpty:
		return "empty"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeRefused:
		return "refused"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Sent reports whether the flush handed an event to the transport.
func (o Outcome) Sent() bool {
	return o == OutcomeSent
}
