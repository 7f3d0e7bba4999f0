package gab

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Guard intercepts local edit, delete, and move events on synchronized
// address-book records. While the pipeline itself is writing the events
// pass; outside that window they are cancelled so hand edits are not
// silently overwritten on the next rebuild.
type Guard struct {
	mu         sync.Mutex
	enabled    bool
	processing int

	// passOnce marks records whose next write is a copy-to-private-
	// folder artifact: a property change with no suppression since.
	passOnce map[string]bool

	warned bool
	warn   func(title, body string)
}

// NewGuard creates a suppression guard. warn is invoked the first time
// a local change is cancelled; it may be nil.
func NewGuard(enabled bool, warn func(title, body string)) *Guard {
	return &Guard{
		enabled:  enabled,
		passOnce: make(map[string]bool),
		warn:     warn,
	}
}

// BeginWrite marks the pipeline as writing and returns the matching
// release. All local events pass while at least one write is open.
func (g *Guard) BeginWrite() func() {
	g.mu.Lock()
	g.processing++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.processing--
			if g.processing < 0 {
				g.mu.Unlock()
				panic("gab: write released more than once")
			}
			g.mu.Unlock()
		})
	}
}

// NotePropertyChange records a property-change notification on a
// record. The record's next write passes once.
func (g *Guard) NotePropertyChange(recordID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.processing > 0 {
		return
	}
	g.passOnce[recordID] = true
}

// AllowWrite reports whether a local write to the record may proceed.
func (g *Guard) AllowWrite(recordID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled || g.processing > 0 {
		return true
	}
	if g.passOnce[recordID] {
		// Copy artifact, allowed exactly once.
		delete(g.passOnce, recordID)
		return true
	}
	g.suppress(recordID, "write")
	return false
}

// AllowDelete reports whether a local delete of the record may proceed.
func (g *Guard) AllowDelete(recordID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled || g.processing > 0 {
		return true
	}
	g.suppress(recordID, "delete")
	return false
}

// AllowMove reports whether moving the record out of its folder may
// proceed. Moves never qualify as copy artifacts.
func (g *Guard) AllowMove(recordID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled || g.processing > 0 {
		return true
	}
	g.suppress(recordID, "move")
	return false
}

// suppress cancels one event. Callers must hold g.mu. Any suppression
// invalidates a pending copy-artifact pass for the record.
func (g *Guard) suppress(recordID, op string) {
	delete(g.passOnce, recordID)

	logrus.WithField("record", recordID).
		Debugf("suppressed local %s on synchronized record", op)

	if !g.warned && g.warn != nil {
		g.warned = true
		g.warn(
			"Synchronized address book",
			"This contact folder is managed by the server. Local changes "+
				"are discarded and will be overwritten on the next synchronization.",
		)
	}
}
