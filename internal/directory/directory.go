// Package directory owns the set of known groupware accounts and the
// discovery/removal event wiring. Subscriptions are explicit owned
// registrations released with a single Cancel, never an ambient bus.
package directory

import (
	"sync"

	"github.com/nhle/gwsync/internal/model"
)

// Events holds the callbacks a subscriber registers. Nil callbacks are
// skipped.
type Events struct {
	// Discovered fires when an account becomes known.
	Discovered func(model.Account)

	// Updated fires when an account's details change, notably when a
	// server confirmation fills in the version and update folder.
	Updated func(model.Account)

	// Removed fires when an account is deleted.
	Removed func(model.Account)

	// Scanned fires after a full re-enumeration of accounts.
	Scanned func()
}

// Subscription is an owned event registration.
type Subscription interface {
	Cancel()
}

type subscription struct {
	dir  *Directory
	id   int
	once sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.dir.mu.Lock()
		defer s.dir.mu.Unlock()
		delete(s.dir.subs, s.id)
	})
}

// Directory is the account registry.
type Directory struct {
	mu       sync.Mutex
	accounts map[model.AccountID]model.Account
	subs     map[int]Events
	nextSub  int
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		accounts: make(map[model.AccountID]model.Account),
		subs:     make(map[int]Events),
	}
}

// Subscribe registers event callbacks and returns the handle that
// releases them.
func (d *Directory) Subscribe(ev Events) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextSub++
	d.subs[d.nextSub] = ev
	return &subscription{dir: d, id: d.nextSub}
}

// Accounts returns a snapshot of all known accounts.
func (d *Directory) Accounts() []model.Account {
	d.mu.Lock()
	defer d.mu.Unlock()

	accounts := make([]model.Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		accounts = append(accounts, a)
	}
	return accounts
}

// Get returns the account with the given id.
func (d *Directory) Get(id model.AccountID) (model.Account, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.accounts[id]
	return a, ok
}

// AddAccount registers a new account and fires Discovered. Adding an
// already-known account is a no-op.
func (d *Directory) AddAccount(a model.Account) {
	d.mu.Lock()
	if _, ok := d.accounts[a.ID]; ok {
		d.mu.Unlock()
		return
	}
	d.accounts[a.ID] = a
	subs := d.snapshotSubs()
	d.mu.Unlock()

	for _, ev := range subs {
		if ev.Discovered != nil {
			ev.Discovered(a)
		}
	}
}

// UpdateAccount replaces a known account's details and fires Updated.
// Unknown accounts are ignored.
func (d *Directory) UpdateAccount(a model.Account) {
	d.mu.Lock()
	if _, ok := d.accounts[a.ID]; !ok {
		d.mu.Unlock()
		return
	}
	d.accounts[a.ID] = a
	subs := d.snapshotSubs()
	d.mu.Unlock()

	for _, ev := range subs {
		if ev.Updated != nil {
			ev.Updated(a)
		}
	}
}

// RemoveAccount deletes an account and fires Removed.
func (d *Directory) RemoveAccount(id model.AccountID) {
	d.mu.Lock()
	a, ok := d.accounts[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.accounts, id)
	subs := d.snapshotSubs()
	d.mu.Unlock()

	for _, ev := range subs {
		if ev.Removed != nil {
			ev.Removed(a)
		}
	}
}

// Scan fires Scanned on all subscribers, signalling that the account
// set has been fully enumerated and sweeps may run.
func (d *Directory) Scan() {
	d.mu.Lock()
	subs := d.snapshotSubs()
	d.mu.Unlock()

	for _, ev := range subs {
		if ev.Scanned != nil {
			ev.Scanned()
		}
	}
}

// snapshotSubs copies the subscriber list; callbacks run outside the
// lock. Callers must hold d.mu.
func (d *Directory) snapshotSubs() []Events {
	subs := make([]Events, 0, len(d.subs))
	for _, ev := range d.subs {
		subs = append(subs, ev)
	}
	return subs
}
