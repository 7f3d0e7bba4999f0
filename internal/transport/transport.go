// Package transport talks to the groupware server's device web service:
// per-device synchronization counters and store size information.
package transport

import (
	"context"
	"time"

	"github.com/nhle/gwsync/internal/model"
)

// SyncCounters is the per-folder progress reported by the device record.
type SyncCounters struct {
	Status string `json:"status"`
	Total  int64  `json:"total"`
	Done   int64  `json:"done"`
	Todo   int64  `json:"todo"`
}

// MakeDone marks the counters as finished.
func (s *SyncCounters) MakeDone() {
	s.Done = s.Total
	s.Todo = 0
}

// FolderContent is the sync state of one folder on the device.
type FolderContent struct {
	// FolderID is the short folder id keying the content map.
	FolderID string `json:"id"`

	// SyncKey is set once the folder has completed at least one sync.
	SyncKey string `json:"synckey"`

	Type  string   `json:"type"`
	Flags []string `json:"flags,omitempty"`

	// Sync is nil for folders with no sync in progress.
	Sync *SyncCounters `json:"sync,omitempty"`
}

// IsSyncing reports whether the folder has outstanding items.
func (f FolderContent) IsSyncing() bool {
	return f.Sync != nil && f.Sync.Todo > 0
}

// DeviceDetails is the device record returned by the server: sync
// counters per folder plus device metadata.
type DeviceDetails struct {
	DeviceID   string `json:"deviceid"`
	DeviceType string `json:"devicetype"`
	Domain     string `json:"domain"`
	DeviceUser string `json:"deviceuser"`
	UserAgent  string `json:"useragent"`

	FirstSyncTime time.Time `json:"firstsynctime"`
	LastSyncTime  time.Time `json:"lastsynctime"`

	// Content maps short folder ids to their sync state. Folders that
	// finished syncing may be omitted from a snapshot.
	Content map[string]FolderContent `json:"contentdata"`

	// InboxFolderID is the short folder id of the primary mailbox.
	InboxFolderID string `json:"inboxfolderid"`

	// InboxBackendID is the active sync id of the primary mailbox,
	// empty or "0" when no sync is running.
	InboxBackendID string `json:"inboxbackendid"`
}

// UserStoreInfo is the aggregate mailbox size record.
type UserStoreInfo struct {
	EmailAddress string `json:"emailaddress"`
	FullName     string `json:"fullname"`
	FolderCount  int64  `json:"foldercount"`
	StoreSize    int64  `json:"storesize"`
}

// Client is the contract for the device web service. Connections are
// account-scoped and opened per call.
type Client interface {
	// GetDeviceDetails fetches the device record for the account.
	GetDeviceDetails(ctx context.Context, account model.Account) (*DeviceDetails, error)

	// GetUserStoreInfo fetches the aggregate store size record.
	GetUserStoreInfo(ctx context.Context, account model.Account) (*UserStoreInfo, error)

	// SetDeviceOptions applies a new synchronization window on the
	// server.
	SetDeviceOptions(ctx context.Context, account model.Account, tf model.SyncTimeFrame) error
}
