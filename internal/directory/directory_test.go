package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/gwsync/internal/model"
)

func TestAddAccountFiresDiscovered(t *testing.T) {
	d := New()

	var discovered []model.AccountID
	d.Subscribe(Events{
		Discovered: func(a model.Account) {
			discovered = append(discovered, a.ID)
		},
	})

	d.AddAccount(model.Account{ID: "a1", Email: "user@example.com"})
	// Adding the same account again is a no-op.
	d.AddAccount(model.Account{ID: "a1", Email: "user@example.com"})

	assert.Equal(t, []model.AccountID{"a1"}, discovered)
	assert.Len(t, d.Accounts(), 1)
}

func TestRemoveAccountFiresRemoved(t *testing.T) {
	d := New()
	d.AddAccount(model.Account{ID: "a1"})

	var removed int
	d.Subscribe(Events{
		Removed: func(a model.Account) { removed++ },
	})

	d.RemoveAccount("a1")
	d.RemoveAccount("a1")

	assert.Equal(t, 1, removed)
	assert.Empty(t, d.Accounts())
}

func TestUpdateAccountFiresUpdatedForKnownOnly(t *testing.T) {
	d := New()
	d.AddAccount(model.Account{ID: "a1"})

	var updated []string
	d.Subscribe(Events{
		Updated: func(a model.Account) { updated = append(updated, a.ServerVersion) },
	})

	d.UpdateAccount(model.Account{ID: "a1", ServerVersion: "2.5.1"})
	d.UpdateAccount(model.Account{ID: "missing", ServerVersion: "1.0"})

	require.Equal(t, []string{"2.5.1"}, updated)

	a, ok := d.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "2.5.1", a.ServerVersion)
}

func TestCancelledSubscriptionStopsEvents(t *testing.T) {
	d := New()

	var fired int
	sub := d.Subscribe(Events{
		Discovered: func(model.Account) { fired++ },
		Scanned:    func() { fired++ },
	})

	d.AddAccount(model.Account{ID: "a1"})
	require.Equal(t, 1, fired)

	sub.Cancel()
	// Cancel is idempotent.
	sub.Cancel()

	d.AddAccount(model.Account{ID: "a2"})
	d.Scan()
	assert.Equal(t, 1, fired)
}
