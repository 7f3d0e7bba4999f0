package syncstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/gwsync/internal/transport"
)

func snapshot(folders map[string]*transport.SyncCounters) *transport.DeviceDetails {
	content := make(map[string]transport.FolderContent, len(folders))
	for id, sync := range folders {
		content[id] = transport.FolderContent{
			FolderID: id,
			SyncKey:  "12",
			Sync:     sync,
		}
	}
	return &transport.DeviceDetails{
		LastSyncTime: time.Now(),
		Content:      content,
	}
}

func TestPercentageFormula(t *testing.T) {
	tests := []struct {
		name  string
		done  int64
		total int64
		want  int
	}{
		{"empty is complete", 0, 0, 100},
		{"half", 50, 100, 50},
		{"complete", 100, 100, 100},
		{"floors instead of rounding", 33, 100, 33},
		{"floor below", 999, 1000, 99},
		{"clamped high", 150, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentage(tt.done, tt.total))
		})
	}
}

func TestSessionAggregatesCounters(t *testing.T) {
	s := NewSession()
	s.Update(snapshot(map[string]*transport.SyncCounters{
		"inbox":    {Total: 100, Done: 40, Todo: 60},
		"calendar": {Total: 50, Done: 50},
	}))

	total, done := s.Counters()
	assert.Equal(t, int64(150), total)
	assert.Equal(t, int64(90), done)
	assert.True(t, s.IsSyncing())
	assert.Equal(t, 60, s.Percentage())
}

func TestSessionDisappearedFolderForcedDone(t *testing.T) {
	s := NewSession()
	s.Update(snapshot(map[string]*transport.SyncCounters{
		"f": {Total: 10, Done: 3, Todo: 7},
	}))
	assert.True(t, s.IsSyncing())

	// The next snapshot omits the folder entirely.
	s.Update(snapshot(nil))

	total, done := s.Counters()
	assert.Equal(t, int64(10), total)
	assert.Equal(t, int64(10), done)
	assert.False(t, s.IsSyncing())
	assert.Equal(t, 100, s.Percentage())
}

func TestSessionIdleToActiveResetsCounters(t *testing.T) {
	s := NewSession()

	// First run finishes.
	s.Update(snapshot(map[string]*transport.SyncCounters{
		"f": {Total: 10, Done: 4, Todo: 6},
	}))
	s.Update(snapshot(map[string]*transport.SyncCounters{
		"f": {Total: 10, Done: 10},
	}))
	assert.False(t, s.IsSyncing())

	// A new run on a different folder must not inherit old totals.
	s.Update(snapshot(map[string]*transport.SyncCounters{
		"g": {Total: 20, Done: 5, Todo: 15},
	}))

	total, done := s.Counters()
	assert.Equal(t, int64(20), total)
	assert.Equal(t, int64(5), done)
	assert.Equal(t, 25, s.Percentage())
}

func TestSessionHasFolderSynced(t *testing.T) {
	s := NewSession()
	s.Update(&transport.DeviceDetails{
		LastSyncTime: time.Now(),
		Content: map[string]transport.FolderContent{
			"synced":  {FolderID: "synced", SyncKey: "42"},
			"initial": {FolderID: "initial", SyncKey: "0"},
		},
	})

	assert.True(t, s.HasFolderSynced("synced"))
	assert.False(t, s.HasFolderSynced("initial"))
	assert.False(t, s.HasFolderSynced("unknown"))
}

func TestGlobalPercentageSumsCountersNotPercentages(t *testing.T) {
	// Two accounts: 1/100 and 9/10. Averaging percentages would give
	// 45; summing counters first gives floor(10*100/110) = 9.
	a := NewSession()
	a.Update(snapshot(map[string]*transport.SyncCounters{
		"f": {Total: 100, Done: 1, Todo: 99},
	}))
	b := NewSession()
	b.Update(snapshot(map[string]*transport.SyncCounters{
		"g": {Total: 10, Done: 9, Todo: 1},
	}))

	var total, done int64
	for _, s := range []*Session{a, b} {
		t2, d := s.Counters()
		total += t2
		done += d
	}
	assert.Equal(t, 9, Percentage(done, total))
}
