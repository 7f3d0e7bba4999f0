// Package syncstate aggregates per-device synchronization counters
// into per-account sessions and a global progress figure, detects
// stalled synchronization, and advises on over-large stores.
package syncstate

import (
	"sync"
	"time"

	"github.com/nhle/gwsync/internal/transport"
)

// folderState is the retained counters for one folder.
type folderState struct {
	status string
	total  int64
	done   int64

	// synced marks folders that have completed at least one sync,
	// derived from the folder's sync key.
	synced bool
}

// Session is one account's running aggregate of device sync counters.
// It is written by the account's own poll cycle only; the small lock
// makes concurrent reads from the aggregation pass safe.
type Session struct {
	mu       sync.Mutex
	folders  map[string]folderState
	total    int64
	done     int64
	syncing  bool
	lastSync time.Time
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{folders: make(map[string]folderState)}
}

// Update merges one poll snapshot into the session.
//
// A folder reporting done < total is active. If the session was idle
// and a folder is now active, the retained counters are reset first so
// stale totals from a previous run cannot corrupt the new percentage.
// A folder that was active in the previous cycle but is absent from
// the snapshot is forced to done = total; the server omits finished
// folders from some snapshots.
func (s *Session) Update(details *transport.DeviceDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshotActive := false
	for _, fc := range details.Content {
		if fc.IsSyncing() {
			snapshotActive = true
			break
		}
	}

	if !s.syncing && snapshotActive {
		// A new sync run is starting, not a continuation.
		s.folders = make(map[string]folderState)
	}

	// Folders that vanished from the snapshot while active are done.
	for id, fs := range s.folders {
		fc, ok := details.Content[id]
		if ok && fc.Sync != nil {
			continue
		}
		if fs.done < fs.total {
			fs.done = fs.total
			s.folders[id] = fs
		}
	}

	for id, fc := range details.Content {
		fs := s.folders[id]
		fs.synced = fc.SyncKey != "" && fc.SyncKey != "0"
		if fc.Sync != nil {
			fs.status = fc.Sync.Status
			fs.total = fc.Sync.Total
			fs.done = fc.Sync.Done
		}
		s.folders[id] = fs
	}

	s.total, s.done, s.syncing = 0, 0, false
	for _, fs := range s.folders {
		s.total += fs.total
		s.done += fs.done
		if fs.done < fs.total {
			s.syncing = true
		}
	}

	s.lastSync = details.LastSyncTime
}

// Counters returns the summed totals for aggregation.
func (s *Session) Counters() (total, done int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.done
}

// IsSyncing reports whether any folder has outstanding items.
func (s *Session) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// LastSyncTime returns the device's last reported sync time.
func (s *Session) LastSyncTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// HasFolderSynced reports whether the folder has completed at least
// one synchronization.
func (s *Session) HasFolderSynced(folderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.folders[folderID].synced
}

// Percentage returns the session's progress.
func (s *Session) Percentage() int {
	total, done := s.Counters()
	return Percentage(done, total)
}

// Percentage computes sync progress from summed counters: 100 when
// nothing is outstanding, otherwise floor(done*100/total) clamped to
// [0, 100]. Per-account and global figures use this same formula;
// the global one sums counters first, it never averages percentages.
func Percentage(done, total int64) int {
	if total == 0 || done == total {
		return 100
	}
	p := int(done * 100 / total)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
