package gab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/gwsync/internal/channel"
	"github.com/nhle/gwsync/internal/directory"
	"github.com/nhle/gwsync/internal/model"
	"github.com/nhle/gwsync/internal/store"
	"github.com/nhle/gwsync/tests/testutil"
)

// countingBook wraps a store and counts folder deletions.
type countingBook struct {
	store.AddressBook
	deleted int
}

func (b *countingBook) DeleteFolder(ctx context.Context, folderID string) error {
	b.deleted++
	return b.AddressBook.DeleteFolder(ctx, folderID)
}

func registryAccount(id, email, folder string) model.Account {
	return model.Account{
		ID:        model.AccountID(id),
		Email:     email,
		GABFolder: folder,
	}
}

func TestEndToEndAccountDiscoveryBuildsAddressBook(t *testing.T) {
	book := testutil.NewTestStore(t)
	dir := directory.New()
	ctx := context.Background()

	backlog := &scriptedChannel{msgs: []model.UpdateMessage{
		contactMsg("1", "c-a", "Alice", "alice@example.com"),
		groupMsg("2", "g-1", "Team", "c-a"),
		deleteMsg("3", "c-gone"),
	}}

	reg := NewRegistry(
		gabConfig(), book, dir,
		func(a model.Account) channel.Channel { return backlog },
		nil,
	)

	var finished int
	reg.syncFinishedHook = func() { finished++ }

	reg.Start(ctx)
	defer reg.Stop()

	dir.AddAccount(registryAccount("a1", "user@example.com", "updates"))

	h, ok := reg.Handler("example.com")
	require.True(t, ok)
	assert.Equal(t, StateWatching, h.State())
	assert.NotNil(t, backlog.watchFn)

	folder, err := book.FolderForDomain(ctx, "example.com")
	require.NoError(t, err)

	contacts, err := book.ListContacts(ctx, folder.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Alice", contacts[0].DisplayName)

	groups, err := book.ListGroups(ctx, folder.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	members, err := book.ListGroupMembers(ctx, groups[0].ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, contacts[0].ID, members[0].MemberID)

	// Once per processed message, not once per batch.
	assert.Equal(t, 3, finished)
}

func TestWatchedItemIsProcessed(t *testing.T) {
	book := testutil.NewTestStore(t)
	dir := directory.New()
	ctx := context.Background()

	ch := &scriptedChannel{}
	reg := NewRegistry(
		gabConfig(), book, dir,
		func(a model.Account) channel.Channel { return ch },
		nil,
	)
	reg.Start(ctx)
	defer reg.Stop()

	dir.AddAccount(registryAccount("a1", "user@example.com", "updates"))
	require.NotNil(t, ch.watchFn)

	ch.watchFn(contactMsg("9", "c-new", "New", "new@example.com"))

	folder, err := book.FolderForDomain(ctx, "example.com")
	require.NoError(t, err)
	contacts, err := book.ListContacts(ctx, folder.ID)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}

func TestWatchDeferredUntilFolderKnown(t *testing.T) {
	book := testutil.NewTestStore(t)
	dir := directory.New()
	ctx := context.Background()

	ch := &scriptedChannel{}
	reg := NewRegistry(
		gabConfig(), book, dir,
		func(a model.Account) channel.Channel { return ch },
		nil,
	)
	reg.Start(ctx)
	defer reg.Stop()

	account := registryAccount("a1", "user@example.com", "")
	dir.AddAccount(account)

	h, ok := reg.Handler("example.com")
	require.True(t, ok)
	assert.Equal(t, StateDetached, h.State())
	assert.Nil(t, ch.watchFn)

	// Confirmation fills in the update folder; watching starts.
	account.GABFolder = "updates"
	account.ServerVersion = "2.5.1"
	dir.UpdateAccount(account)

	assert.Equal(t, StateWatching, h.State())
	assert.NotNil(t, ch.watchFn)
}

func TestAccountRemovalTearsDownEmptyPipeline(t *testing.T) {
	book := testutil.NewTestStore(t)
	dir := directory.New()
	ctx := context.Background()

	reg := NewRegistry(
		gabConfig(), book, dir,
		func(a model.Account) channel.Channel { return &scriptedChannel{} },
		nil,
	)
	reg.Start(ctx)
	defer reg.Stop()

	account := registryAccount("a1", "user@example.com", "updates")
	dir.AddAccount(account)
	_, ok := reg.Handler("example.com")
	require.True(t, ok)

	dir.RemoveAccount(account.ID)

	_, ok = reg.Handler("example.com")
	assert.False(t, ok)
}

func TestUnusedFolderSweepIsIdempotent(t *testing.T) {
	inner := testutil.NewTestStore(t)
	book := &countingBook{AddressBook: inner}
	dir := directory.New()
	ctx := context.Background()

	reg := NewRegistry(
		gabConfig(), book, dir,
		func(a model.Account) channel.Channel { return &scriptedChannel{} },
		nil,
	)
	reg.Start(ctx)
	defer reg.Stop()

	// A folder whose domain has no live account.
	_, err := inner.EnsureFolder(ctx, "stale.com", "Stale", "gone")
	require.NoError(t, err)

	dir.Scan()
	assert.Equal(t, 1, book.deleted)

	folders, err := inner.ListFolders(ctx)
	require.NoError(t, err)
	assert.Empty(t, folders)

	// A second sweep with no intervening changes deletes nothing.
	dir.Scan()
	assert.Equal(t, 1, book.deleted)
}

func TestSecondAccountOnDomainSharesPipeline(t *testing.T) {
	book := testutil.NewTestStore(t)
	dir := directory.New()
	ctx := context.Background()

	first := &scriptedChannel{}
	second := &scriptedChannel{}
	channels := map[model.AccountID]channel.Channel{
		"a1": first,
		"a2": second,
	}

	reg := NewRegistry(
		gabConfig(), book, dir,
		func(a model.Account) channel.Channel { return channels[a.ID] },
		nil,
	)
	reg.Start(ctx)
	defer reg.Stop()

	dir.AddAccount(registryAccount("a1", "user@example.com", "updates"))
	dir.AddAccount(registryAccount("a2", "other@example.com", "updates"))

	h, ok := reg.Handler("example.com")
	require.True(t, ok)
	assert.Equal(t, model.AccountID("a1"), h.ActiveAccount())

	// Only the active account's folder is drained.
	assert.NotNil(t, first.watchFn)
	assert.Nil(t, second.watchFn)
}

func TestRegistryFullResyncCompletesUmbrellaScope(t *testing.T) {
	book := testutil.NewTestStore(t)
	dir := directory.New()
	ctx := context.Background()

	ch := &scriptedChannel{msgs: []model.UpdateMessage{
		contactMsg("1", "c-a", "Alice", "alice@example.com"),
	}}
	reg := NewRegistry(
		gabConfig(), book, dir,
		func(a model.Account) channel.Channel { return ch },
		nil,
	)
	reg.Start(ctx)
	defer reg.Stop()

	dir.AddAccount(registryAccount("a1", "user@example.com", "updates"))

	done := make(chan struct{})
	reg.FullResync(ctx, func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("umbrella resync scope never completed")
	}

	folder, err := book.FolderForDomain(ctx, "example.com")
	require.NoError(t, err)
	contacts, err := book.ListContacts(ctx, folder.ID)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}
