package verify

import (
	"depverify/internal/errors"
	"depverify/internal/evidence"
)

// ledger is the append-only evidence sequence of one collection attempt.
// It is frozen when scoring starts.
type ledger struct {
	items  []evidence.Evidence
	frozen bool
}

func newLedger(seed []evidence.Evidence) *ledger {
	return &ledger{items: append([]evidence.Evidence(nil), seed...)}
}

func (l *ledger) append(items ...evidence.Evidence) error {
	if l.frozen {
		return errors.New(errors.InternalError, "evidence appended after scoring started", nil)
	}
	l.items = append(l.items, items...)
	return nil
}

// snapshot returns the current items without freezing.
func (l *ledger) snapshot() []evidence.Evidence {
	return evidence.Union(l.items)
}

// freeze stops further appends and returns the de-duplicated items.
func (l *ledger) freeze() []evidence.Evidence {
	l.frozen = true
	return evidence.Union(l.items)
}

func (l *ledger) len() int {
	return len(l.items)
}
