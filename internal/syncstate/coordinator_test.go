package syncstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/gwsync/internal/directory"
	"github.com/nhle/gwsync/internal/model"
	"github.com/nhle/gwsync/internal/transport"
)

type fakeClient struct {
	details    *transport.DeviceDetails
	detailsErr error
	info       *transport.UserStoreInfo
	infoErr    error
	setFrames  []model.SyncTimeFrame
}

func (f *fakeClient) GetDeviceDetails(
	ctx context.Context, account model.Account,
) (*transport.DeviceDetails, error) {
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	return f.details, nil
}

func (f *fakeClient) GetUserStoreInfo(
	ctx context.Context, account model.Account,
) (*transport.UserStoreInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeClient) SetDeviceOptions(
	ctx context.Context, account model.Account, tf model.SyncTimeFrame,
) error {
	f.setFrames = append(f.setFrames, tf)
	return nil
}

type fakePrompter struct {
	answer bool
	asked  int
}

func (f *fakePrompter) AskYesNo(title, body string) bool {
	f.asked++
	return f.answer
}

func (f *fakePrompter) Confirm(title, body string) bool { return f.answer }
func (f *fakePrompter) Warn(title, body string)         {}

type fakeRestarter struct {
	restarts int
}

func (f *fakeRestarter) Restart(ctx context.Context, account model.Account) {
	f.restarts++
}

func testAccount() model.Account {
	return model.Account{
		ID:            "a1",
		Email:         "user@example.com",
		ServerVersion: "2.5.1",
		SyncTimeFrame: model.TimeFrameAll,
	}
}

func newTestPoller(a model.Account) *accountPoller {
	return &accountPoller{
		account: a,
		session: NewSession(),
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func TestSuggestTimeFrame(t *testing.T) {
	assert.Equal(t, model.TimeFrame1Month, SuggestTimeFrame(12*gib))
	assert.Equal(t, model.TimeFrame1Month, SuggestTimeFrame(10*gib))
	assert.Equal(t, model.TimeFrame3Months, SuggestTimeFrame(6*gib))
	assert.Equal(t, model.TimeFrame6Months, SuggestTimeFrame(3*gib))
	assert.Equal(t, model.TimeFrameAll, SuggestTimeFrame(1*gib))
	assert.Equal(t, model.TimeFrameAll, SuggestTimeFrame(0))
}

func TestStallPromptedOncePerEpisode(t *testing.T) {
	account := testAccount()
	dir := directory.New()
	dir.AddAccount(account)

	client := &fakeClient{}
	prompter := &fakePrompter{answer: false}
	cfg := model.SyncStateConfig{
		CheckStall:  true,
		StallPeriod: 5 * time.Millisecond,
	}
	c := NewCoordinator(cfg, client, dir, prompter, &fakeRestarter{})
	p := newTestPoller(account)

	lastSync := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	stalled := &transport.DeviceDetails{
		LastSyncTime:   lastSync,
		InboxFolderID:  "inbox",
		InboxBackendID: "0",
		Content:        map[string]transport.FolderContent{},
	}
	client.details = stalled

	// First cycle observes the sync time, second starts the stall
	// timer, later cycles past the period raise exactly one prompt.
	c.pollOnce(p)
	c.pollOnce(p)
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		c.pollOnce(p)
	}
	assert.Equal(t, 1, prompter.asked)

	// The sync time advancing starts a new episode.
	client.details = &transport.DeviceDetails{
		LastSyncTime:   lastSync.Add(time.Hour),
		InboxFolderID:  "inbox",
		InboxBackendID: "0",
		Content:        map[string]transport.FolderContent{},
	}
	c.pollOnce(p)
	client.details = stalled2(lastSync.Add(time.Hour))
	c.pollOnce(p)
	time.Sleep(10 * time.Millisecond)
	c.pollOnce(p)
	assert.Equal(t, 2, prompter.asked)
}

func stalled2(lastSync time.Time) *transport.DeviceDetails {
	return &transport.DeviceDetails{
		LastSyncTime:   lastSync,
		InboxFolderID:  "inbox",
		InboxBackendID: "0",
		Content:        map[string]transport.FolderContent{},
	}
}

func TestNoStallPromptWhileSyncRunning(t *testing.T) {
	account := testAccount()
	dir := directory.New()
	dir.AddAccount(account)

	client := &fakeClient{}
	prompter := &fakePrompter{answer: true}
	cfg := model.SyncStateConfig{
		CheckStall:  true,
		StallPeriod: time.Millisecond,
	}
	c := NewCoordinator(cfg, client, dir, prompter, &fakeRestarter{})
	p := newTestPoller(account)

	// Initial sync in flight: backend sync id set, inbox not yet
	// synced, last-sync time sitting still.
	client.details = &transport.DeviceDetails{
		LastSyncTime:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		InboxFolderID:  "inbox",
		InboxBackendID: "55",
		Content:        map[string]transport.FolderContent{},
	}
	c.pollOnce(p)
	c.pollOnce(p)
	time.Sleep(5 * time.Millisecond)
	c.pollOnce(p)

	assert.Zero(t, prompter.asked)
}

func TestNoStallPromptWhenInboxAlreadySynced(t *testing.T) {
	account := testAccount()
	dir := directory.New()
	dir.AddAccount(account)

	client := &fakeClient{}
	prompter := &fakePrompter{answer: true}
	cfg := model.SyncStateConfig{
		CheckStall:  true,
		StallPeriod: time.Millisecond,
	}
	c := NewCoordinator(cfg, client, dir, prompter, &fakeRestarter{})
	p := newTestPoller(account)

	// No sync running, but the inbox has completed its initial sync.
	client.details = &transport.DeviceDetails{
		LastSyncTime:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		InboxFolderID:  "inbox",
		InboxBackendID: "0",
		Content: map[string]transport.FolderContent{
			"inbox": {FolderID: "inbox", SyncKey: "42"},
		},
	}
	c.pollOnce(p)
	c.pollOnce(p)
	time.Sleep(5 * time.Millisecond)
	c.pollOnce(p)

	assert.Zero(t, prompter.asked)
}

func TestStallConfirmationTriggersRestart(t *testing.T) {
	account := testAccount()
	dir := directory.New()
	dir.AddAccount(account)

	client := &fakeClient{}
	prompter := &fakePrompter{answer: true}
	restarter := &fakeRestarter{}
	cfg := model.SyncStateConfig{
		CheckStall:  true,
		StallPeriod: time.Millisecond,
	}
	c := NewCoordinator(cfg, client, dir, prompter, restarter)
	p := newTestPoller(account)

	client.details = stalled2(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	c.pollOnce(p)
	c.pollOnce(p)
	time.Sleep(5 * time.Millisecond)
	c.pollOnce(p)

	assert.Equal(t, 1, prompter.asked)
	assert.Equal(t, 1, restarter.restarts)
}

func TestPollFailureLeavesSessionUnchanged(t *testing.T) {
	account := testAccount()
	dir := directory.New()
	dir.AddAccount(account)

	client := &fakeClient{}
	c := NewCoordinator(model.SyncStateConfig{}, client, dir, &fakePrompter{}, nil)
	p := newTestPoller(account)

	client.details = &transport.DeviceDetails{
		LastSyncTime: time.Now(),
		Content: map[string]transport.FolderContent{
			"f": {FolderID: "f", Sync: &transport.SyncCounters{Total: 10, Done: 5, Todo: 5}},
		},
	}
	c.pollOnce(p)
	total, done := p.session.Counters()
	require.Equal(t, int64(10), total)

	client.detailsErr = assert.AnError
	c.pollOnce(p)

	total2, done2 := p.session.Counters()
	assert.Equal(t, total, total2)
	assert.Equal(t, done, done2)
}

func TestStoreSizeAdvisoryAppliesTighterWindow(t *testing.T) {
	account := testAccount()
	dir := directory.New()
	dir.AddAccount(account)

	client := &fakeClient{
		details: &transport.DeviceDetails{
			LastSyncTime: time.Now(),
			Content:      map[string]transport.FolderContent{},
		},
		info: &transport.UserStoreInfo{StoreSize: 11 * gib},
	}
	prompter := &fakePrompter{answer: true}
	cfg := model.SyncStateConfig{CheckStoreSize: true}
	c := NewCoordinator(cfg, client, dir, prompter, nil)
	p := newTestPoller(account)

	c.pollOnce(p)

	require.Equal(t, 1, prompter.asked)
	require.Len(t, client.setFrames, 1)
	assert.Equal(t, model.TimeFrame1Month, client.setFrames[0])

	updated, ok := dir.Get(account.ID)
	require.True(t, ok)
	assert.Equal(t, model.TimeFrame1Month, updated.SyncTimeFrame)

	// Once per account lifetime.
	c.pollOnce(p)
	assert.Equal(t, 1, prompter.asked)
}

func TestStoreSizeAdvisoryRejectionNotRepeated(t *testing.T) {
	account := testAccount()
	dir := directory.New()
	dir.AddAccount(account)

	client := &fakeClient{
		details: &transport.DeviceDetails{
			LastSyncTime: time.Now(),
			Content:      map[string]transport.FolderContent{},
		},
		info: &transport.UserStoreInfo{StoreSize: 6 * gib},
	}
	prompter := &fakePrompter{answer: false}
	c := NewCoordinator(model.SyncStateConfig{CheckStoreSize: true}, client, dir, prompter, nil)
	p := newTestPoller(account)

	c.pollOnce(p)
	assert.Equal(t, 1, prompter.asked)
	assert.Empty(t, client.setFrames)

	// The declined window is recorded on the account record.
	declined, ok := dir.Get(account.ID)
	require.True(t, ok)
	assert.True(t, declined.SizeChecked)
	assert.Equal(t, model.TimeFrame3Months, declined.RejectedTimeFrame)

	// Re-arm the advisory, as editing the config would: the same
	// suggestion stays declined.
	declined.SizeChecked = false
	dir.UpdateAccount(declined)
	c.pollOnce(p)
	assert.Equal(t, 1, prompter.asked)

	// A tighter suggestion than the declined one asks again.
	rearmed, ok := dir.Get(account.ID)
	require.True(t, ok)
	rearmed.SizeChecked = false
	dir.UpdateAccount(rearmed)
	client.info = &transport.UserStoreInfo{StoreSize: 11 * gib}
	c.pollOnce(p)
	assert.Equal(t, 2, prompter.asked)
}

func TestStoreSizeAdvisorySkipsOldServers(t *testing.T) {
	account := testAccount()
	account.ServerVersion = "2.4.0"
	dir := directory.New()
	dir.AddAccount(account)

	client := &fakeClient{info: &transport.UserStoreInfo{StoreSize: 20 * gib}}
	prompter := &fakePrompter{answer: true}
	c := NewCoordinator(model.SyncStateConfig{CheckStoreSize: true}, client, dir, prompter, nil)
	p := newTestPoller(account)

	c.checkStoreSize(context.Background(), p)

	assert.Zero(t, prompter.asked)
	updated, ok := dir.Get(account.ID)
	require.True(t, ok)
	assert.True(t, updated.SizeChecked)
}
