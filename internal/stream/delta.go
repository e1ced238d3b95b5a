package stream

import "strings"

// DeltaFromSnapshot returns the part of snap not yet covered by acc. A stale or duplicate
// snapshot yields "". When the two have diverged the whole snapshot is returned.
func DeltaFromSnapshot(acc, snap string) string {
	if strings.HasPrefix(snap, acc) {
		return snap[len(acc):]
	}
	if strings.HasPrefix(acc, snap) {
		return ""
	}
	return snap
}

// snapshotTracker remembers the text a parser has already reported for the current message.
type snapshotTracker struct {
	acc string
}

// apply returns the unseen suffix of snap and advances the baseline.
func (t *snapshotTracker) apply(snap string) string {
	d := DeltaFromSnapshot(t.acc, snap)
	if d != "" {
		t.acc = snap
	}
	return d
}

func (t *snapshotTracker) append(text string) { t.acc += text }

func (t *snapshotTracker) reset() { t.acc = "" }
