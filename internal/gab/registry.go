package gab

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nhle/gwsync/internal/channel"
	"github.com/nhle/gwsync/internal/completion"
	"github.com/nhle/gwsync/internal/directory"
	"github.com/nhle/gwsync/internal/model"
	"github.com/nhle/gwsync/internal/prompt"
	"github.com/nhle/gwsync/internal/store"
)

// ChannelFactory builds the inbound update channel for one account.
type ChannelFactory func(account model.Account) channel.Channel

// Registry owns the domain to pipeline mapping. Account lifecycle
// events from the directory drive pipeline lifecycle; housekeeping
// (unused folders, empty pipelines, trash) runs as idempotent sweeps.
type Registry struct {
	cfg      model.GABConfig
	book     store.AddressBook
	dir      *directory.Directory
	channels ChannelFactory
	guard    *Guard

	ctx context.Context

	mu       sync.Mutex
	handlers map[string]*Handler
	sub      directory.Subscription

	// syncFinishedHook observes per-message completion, used in tests.
	syncFinishedHook func()
}

// NewRegistry creates the registry. Dependencies are passed explicitly;
// nothing reaches for globals.
func NewRegistry(
	cfg model.GABConfig,
	book store.AddressBook,
	dir *directory.Directory,
	channels ChannelFactory,
	prompter prompt.Prompter,
) *Registry {
	var warn func(title, body string)
	if prompter != nil {
		warn = prompter.Warn
	}
	return &Registry{
		cfg:      cfg,
		book:     book,
		dir:      dir,
		channels: channels,
		guard:    NewGuard(cfg.SuppressModifications, warn),
		ctx:      context.Background(),
		handlers: make(map[string]*Handler),
	}
}

// Guard returns the local-edit suppression guard.
func (r *Registry) Guard() *Guard { return r.guard }

// Start subscribes to directory events and attaches every account
// already known.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.sub = r.dir.Subscribe(directory.Events{
		Discovered: r.accountDiscovered,
		Updated:    r.accountUpdated,
		Removed:    r.accountRemoved,
		Scanned:    r.scanned,
	})
	r.mu.Unlock()

	for _, a := range r.dir.Accounts() {
		r.accountDiscovered(a)
	}
}

// Stop cancels the directory subscription and stops all pipelines.
// Backing folders are left in place.
func (r *Registry) Stop() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	handlers := r.snapshotHandlers()
	r.handlers = make(map[string]*Handler)
	ctx := r.ctx
	r.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	for _, h := range handlers {
		h.Teardown(ctx, false)
	}
}

// Handler returns the pipeline for a domain, if one exists.
func (r *Registry) Handler(domain string) (*Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[domain]
	return h, ok
}

// accountDiscovered records the account's domain and, once the update
// folder is known, begins watching it.
func (r *Registry) accountDiscovered(a model.Account) {
	if !r.cfg.ProcessFolder {
		logrus.WithField("account", a.ID).
			Debug("folder processing disabled, ignoring account")
		return
	}
	domain := a.Domain()
	if domain == "" {
		logrus.WithField("account", a.ID).
			Warn("account has no mail domain, ignoring")
		return
	}

	h := r.handlerFor(domain)
	h.Attach(a, r.channels(a))

	r.maybeWatch(h, a)
}

// accountUpdated refreshes the account's details, typically filling in
// the confirmed server version and update folder.
func (r *Registry) accountUpdated(a model.Account) {
	if !r.cfg.ProcessFolder {
		return
	}
	domain := a.Domain()
	if domain == "" {
		return
	}

	h := r.handlerFor(domain)
	h.Attach(a, r.channels(a))
	r.maybeWatch(h, a)
}

// maybeWatch starts the folder watch when the account is the domain's
// active one and its update folder is known.
func (r *Registry) maybeWatch(h *Handler, a model.Account) {
	if h.ActiveAccount() != a.ID || a.GABFolder == "" {
		return
	}

	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	if err := h.StartWatching(ctx); err != nil {
		logrus.WithField("domain", h.Domain()).WithField("account", a.ID).
			Errorf("starting folder watch: %v", err)
	}
}

// accountRemoved detaches the account and tears down the pipeline if
// it was the last one.
func (r *Registry) accountRemoved(a model.Account) {
	domain := a.Domain()

	r.mu.Lock()
	h, ok := r.handlers[domain]
	r.mu.Unlock()
	if !ok {
		return
	}

	h.Detach(a.ID)
	r.sweepEmptyHandlers()
}

// scanned runs the housekeeping sweeps after a full account
// enumeration: folders whose domain has no live account are deleted,
// pipelines with no attached accounts are removed, and the trash is
// emptied. All three are idempotent.
func (r *Registry) scanned() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	if r.cfg.CheckUnused {
		r.sweepUnusedFolders(ctx)
	}
	r.sweepEmptyHandlers()

	if r.cfg.EmptyTrash {
		if _, err := r.book.EmptyTrash(ctx); err != nil {
			logrus.Errorf("emptying trash after scan: %v", err)
		}
	}
}

// sweepUnusedFolders deletes address-book folders whose domain has no
// attached account. Per-folder failures are logged and the sweep
// continues.
func (r *Registry) sweepUnusedFolders(ctx context.Context) {
	folders, err := r.book.ListFolders(ctx)
	if err != nil {
		logrus.Errorf("listing folders for unused sweep: %v", err)
		return
	}

	live := make(map[string]bool)
	for _, a := range r.dir.Accounts() {
		live[a.Domain()] = true
	}

	for _, f := range folders {
		if live[f.Domain] {
			continue
		}
		logrus.WithField("domain", f.Domain).WithField("folder", f.ID).
			Info("deleting address book for unused domain")
		if err := r.book.DeleteFolder(ctx, f.ID); err != nil {
			logrus.WithField("folder", f.ID).
				Errorf("deleting unused folder: %v", err)
		}
	}
}

// sweepEmptyHandlers removes pipelines with no attached accounts.
func (r *Registry) sweepEmptyHandlers() {
	r.mu.Lock()
	ctx := r.ctx
	var empty []*Handler
	for domain, h := range r.handlers {
		if h.Empty() {
			empty = append(empty, h)
			delete(r.handlers, domain)
		}
	}
	r.mu.Unlock()

	for _, h := range empty {
		logrus.WithField("domain", h.Domain()).
			Info("removing pipeline with no attached accounts")
		h.Teardown(ctx, r.cfg.CheckUnused)
	}
}

// FullResync rebuilds every domain's address book. Domains run
// concurrently; onDone fires once after the last domain finishes.
func (r *Registry) FullResync(ctx context.Context, onDone func()) {
	tracker, handle := completion.Begin(onDone)
	defer handle.End()

	for _, h := range r.snapshotHandlersLocked() {
		// Hold a reference across the spawn so the umbrella scope
		// cannot complete before the domain registers its own.
		hold := tracker.Begin()
		go func(h *Handler, hold *completion.Handle) {
			defer hold.End()
			h.FullResync(ctx, tracker)
		}(h, hold)
	}
}

// syncFinished runs once per processed message, after its completion
// scope closes. Deletions leave tombstones behind, so the trash is
// emptied here when the policy allows.
func (r *Registry) syncFinished() {
	r.mu.Lock()
	ctx := r.ctx
	hook := r.syncFinishedHook
	r.mu.Unlock()

	if r.cfg.EmptyTrash {
		if _, err := r.book.EmptyTrash(ctx); err != nil {
			logrus.Errorf("emptying trash: %v", err)
		}
	}
	if hook != nil {
		hook()
	}
}

// handlerFor returns the domain's pipeline, creating it on first use.
func (r *Registry) handlerFor(domain string) *Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handlers[domain]; ok {
		return h
	}
	h := NewHandler(domain, r.cfg, r.book, r.guard, r.syncFinished)
	r.handlers[domain] = h
	logrus.WithField("domain", domain).Info("created address book pipeline")
	return h
}

// snapshotHandlers copies the handler list. Callers must hold r.mu.
func (r *Registry) snapshotHandlers() []*Handler {
	handlers := make([]*Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	return handlers
}

// snapshotHandlersLocked copies the handler list under the lock.
func (r *Registry) snapshotHandlersLocked() []*Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotHandlers()
}
