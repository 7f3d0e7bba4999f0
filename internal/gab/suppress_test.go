package gab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardAllowsEverythingWhileProcessing(t *testing.T) {
	g := NewGuard(true, nil)

	release := g.BeginWrite()
	assert.True(t, g.AllowWrite("r1"))
	assert.True(t, g.AllowDelete("r1"))
	assert.True(t, g.AllowMove("r1"))
	release()

	assert.False(t, g.AllowWrite("r1"))
}

func TestGuardSuppressesOutsideProcessing(t *testing.T) {
	var warnings int
	g := NewGuard(true, func(title, body string) { warnings++ })

	assert.False(t, g.AllowWrite("r1"))
	assert.False(t, g.AllowDelete("r2"))
	assert.False(t, g.AllowMove("r3"))

	// The warning is raised once, not per event.
	assert.Equal(t, 1, warnings)
}

func TestGuardDisabledPassesEverything(t *testing.T) {
	g := NewGuard(false, nil)

	assert.True(t, g.AllowWrite("r1"))
	assert.True(t, g.AllowDelete("r1"))
	assert.True(t, g.AllowMove("r1"))
}

func TestGuardCopyArtifactPassesOnce(t *testing.T) {
	g := NewGuard(true, nil)

	// A property change on the record lets its next write through.
	g.NotePropertyChange("r1")
	assert.True(t, g.AllowWrite("r1"))

	// Exactly once.
	assert.False(t, g.AllowWrite("r1"))
}

func TestGuardSuppressionInvalidatesCopyArtifact(t *testing.T) {
	g := NewGuard(true, nil)

	g.NotePropertyChange("r1")
	// An intervening suppressed delete cancels the pending pass.
	assert.False(t, g.AllowDelete("r1"))
	assert.False(t, g.AllowWrite("r1"))
}

func TestGuardPropertyChangeDuringProcessingIgnored(t *testing.T) {
	g := NewGuard(true, nil)

	release := g.BeginWrite()
	g.NotePropertyChange("r1")
	release()

	assert.False(t, g.AllowWrite("r1"))
}

func TestGuardNestedWrites(t *testing.T) {
	g := NewGuard(true, nil)

	outer := g.BeginWrite()
	inner := g.BeginWrite()
	inner()
	assert.True(t, g.AllowWrite("r1"))
	outer()
	assert.False(t, g.AllowWrite("r1"))

	// Releases are idempotent.
	outer()
	assert.False(t, g.AllowWrite("r1"))
}
