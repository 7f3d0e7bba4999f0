// Package gab materializes per-domain global address books from
// server-pushed update messages. A Handler is the per-domain pipeline;
// the Registry owns the domain map and wires account lifecycle events
// into handler lifecycle.
package gab

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nhle/gwsync/internal/channel"
	"github.com/nhle/gwsync/internal/completion"
	"github.com/nhle/gwsync/internal/model"
	"github.com/nhle/gwsync/internal/store"
)

// State is the lifecycle phase of one domain's pipeline.
type State string

const (
	// StateDetached means no member accounts, nothing watched.
	StateDetached State = "detached"

	// StateWatching means the update folder is observed for new items.
	StateWatching State = "watching"

	// StateProcessing means one message is being consumed.
	StateProcessing State = "processing"

	// StateResyncing means a full rebuild is in progress.
	StateResyncing State = "resyncing"
)

// member is one account attached to a domain pipeline, with the
// channel that can drain its update folder.
type member struct {
	account model.Account
	channel channel.Channel
}

// Handler maintains one domain's address book from its inbound update
// stream. Messages are processed one at a time in arrival order; a
// full resync is mutually exclusive with normal draining.
type Handler struct {
	domain     string
	cfg        model.GABConfig
	book       store.AddressBook
	guard      *Guard
	onFinished func()

	// procMu serializes message processing and resync replay. It is
	// never held across account attach/detach.
	procMu sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	state   State
	members map[model.AccountID]member
	order   []model.AccountID
	active  model.AccountID
	folder  *model.Folder
	watch   channel.Subscription
}

// NewHandler creates a detached pipeline for the domain. onFinished is
// invoked once per processed message, when its completion scope closes.
func NewHandler(
	domain string,
	cfg model.GABConfig,
	book store.AddressBook,
	guard *Guard,
	onFinished func(),
) *Handler {
	return &Handler{
		domain:     domain,
		cfg:        cfg,
		book:       book,
		guard:      guard,
		onFinished: onFinished,
		ctx:        context.Background(),
		state:      StateDetached,
		members:    make(map[model.AccountID]member),
	}
}

// Domain returns the mail domain this pipeline serves.
func (h *Handler) Domain() string { return h.domain }

// State returns the current lifecycle phase.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Empty reports whether no accounts are attached.
func (h *Handler) Empty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members) == 0
}

// ActiveAccount returns the id of the account whose folder is drained.
func (h *Handler) ActiveAccount() model.AccountID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Attach adds an account to the domain. The first attached account
// becomes the active one; further accounts share the address book but
// their folders are not drained.
func (h *Handler) Attach(account model.Account, ch channel.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.members[account.ID]; ok {
		h.members[account.ID] = member{account: account, channel: ch}
		return
	}

	h.members[account.ID] = member{account: account, channel: ch}
	h.order = append(h.order, account.ID)

	if h.active == "" {
		h.active = account.ID
		return
	}

	logrus.WithField("domain", h.domain).WithField("account", account.ID).
		Info("domain already has an active account, folder will not be drained")
}

// Detach removes an account. Detaching the active account stops the
// watch and promotes the next attached account, restarting the watch
// when its update folder is known.
func (h *Handler) Detach(id model.AccountID) {
	h.mu.Lock()

	if _, ok := h.members[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.members, id)
	for i, o := range h.order {
		if o == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}

	if h.active != id {
		h.mu.Unlock()
		return
	}

	if h.watch != nil {
		h.watch.Cancel()
		h.watch = nil
	}
	h.active = ""
	h.state = StateDetached

	var promoted member
	if len(h.order) > 0 {
		h.active = h.order[0]
		promoted = h.members[h.active]
	}
	ctx := h.ctx
	h.mu.Unlock()

	if promoted.account.ID != "" && promoted.account.GABFolder != "" {
		logrus.WithField("domain", h.domain).WithField("account", promoted.account.ID).
			Info("promoting account to active for domain")
		if err := h.StartWatching(ctx); err != nil {
			logrus.WithField("domain", h.domain).
				Errorf("restarting watch after promotion: %v", err)
		}
	}
}

// StartWatching begins observing the active account's update folder:
// the local backing folder is ensured, the backlog is drained once,
// then new items are processed as they arrive.
func (h *Handler) StartWatching(ctx context.Context) error {
	h.mu.Lock()
	if h.watch != nil {
		h.mu.Unlock()
		return nil
	}
	if h.active == "" {
		h.mu.Unlock()
		return fmt.Errorf("domain %s has no active account", h.domain)
	}
	m := h.members[h.active]
	if m.account.GABFolder == "" {
		h.mu.Unlock()
		return fmt.Errorf("account %s has no update folder yet", m.account.ID)
	}
	h.ctx = ctx
	h.mu.Unlock()

	if _, err := h.ensureFolder(ctx, m.account.ID); err != nil {
		return err
	}

	// Drain the backlog before registering the watch; the watch only
	// fires for items arriving after its baseline.
	backlog, err := m.channel.List(ctx, m.account.GABFolder)
	if err != nil {
		if channel.IsTransient(err) {
			logrus.WithField("domain", h.domain).
				Warnf("backlog scan failed, will drain on next resync: %v", err)
		} else {
			return fmt.Errorf("scanning backlog for %s: %w", h.domain, err)
		}
	}

	sub, err := m.channel.Watch(m.account.GABFolder, h.Process)
	if err != nil {
		return fmt.Errorf("watching folder %s: %w", m.account.GABFolder, err)
	}

	h.mu.Lock()
	h.watch = sub
	h.state = StateWatching
	h.mu.Unlock()

	logrus.WithField("domain", h.domain).WithField("folder", m.account.GABFolder).
		Info("watching update folder")

	for _, msg := range backlog {
		h.Process(msg)
	}
	return nil
}

// Process consumes one update message. Failures are isolated to the
// message; the owner is notified when its completion scope closes.
func (h *Handler) Process(msg model.UpdateMessage) {
	if !h.cfg.ProcessItems {
		logrus.WithField("domain", h.domain).
			Debug("item processing disabled, skipping message")
		return
	}

	h.mu.Lock()
	ctx := h.ctx
	h.mu.Unlock()

	h.procMu.Lock()
	defer h.procMu.Unlock()

	prev := h.setState(StateProcessing)
	defer h.setState(prev)

	h.processOne(ctx, msg, nil)
}

// processOne applies one message inside a completion scope nested
// under parent. Callers hold procMu.
func (h *Handler) processOne(
	ctx context.Context, msg model.UpdateMessage, parent *completion.Tracker,
) {
	tracker := completion.NewChild(parent, h.onFinished)
	handle := tracker.Begin()
	defer handle.End()

	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("domain", h.domain).WithField("item", msg.ItemID).
				Errorf("panic while processing update message: %v", r)
		}
	}()

	release := h.guard.BeginWrite()
	defer release()

	if err := h.apply(ctx, msg); err != nil {
		logrus.WithField("domain", h.domain).WithField("item", msg.ItemID).
			Errorf("processing update message: %v", err)
	}
}

// apply dispatches over the message kind.
func (h *Handler) apply(ctx context.Context, msg model.UpdateMessage) error {
	switch msg.Kind {
	case model.UpdateContact:
		return h.applyContact(ctx, msg.Contact)
	case model.UpdateGroup:
		return h.applyGroup(ctx, msg.Group)
	case model.UpdateDelete:
		return h.applyDelete(ctx, msg.Delete)
	case model.UpdateClear:
		return h.applyClear(ctx)
	case model.UpdateUnknown:
		logrus.WithField("domain", h.domain).WithField("item", msg.ItemID).
			Warn("skipping update message of unknown kind")
		return nil
	default:
		logrus.WithField("domain", h.domain).WithField("item", msg.ItemID).
			Warnf("skipping update message of kind %q", msg.Kind)
		return nil
	}
}

func (h *Handler) applyContact(ctx context.Context, c *model.ContactUpdate) error {
	folder, err := h.currentFolder(ctx)
	if err != nil {
		return err
	}

	if h.cfg.ClearContacts {
		if _, err := h.book.ClearContactsByOrigin(ctx, folder.ID, c.OriginID); err != nil {
			return fmt.Errorf("clearing contact %s: %w", c.OriginID, err)
		}
	}

	if !h.cfg.CreateContacts {
		return nil
	}

	contact := model.Contact{
		OriginID:    c.OriginID,
		FolderID:    folder.ID,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		Phone:       c.Phone,
	}
	if h.cfg.SyncFaxNumbers {
		contact.Fax = c.Fax
	}

	if _, err := h.book.CreateContact(ctx, contact); err != nil {
		return fmt.Errorf("creating contact %s: %w", c.OriginID, err)
	}
	return nil
}

func (h *Handler) applyGroup(ctx context.Context, g *model.GroupUpdate) error {
	folder, err := h.currentFolder(ctx)
	if err != nil {
		return err
	}

	// Groups with their own SMTP address can be addressed directly, so
	// they may be materialized as plain contacts.
	if g.Email != "" && h.cfg.SMTPGroupsAsContacts {
		return h.applyContact(ctx, &model.ContactUpdate{
			OriginID:    g.OriginID,
			DisplayName: g.DisplayName,
			Email:       g.Email,
		})
	}

	if !h.cfg.CreateGroups {
		return nil
	}

	if h.cfg.ClearContacts {
		if _, err := h.book.DeleteByOrigin(ctx, folder.ID, g.OriginID); err != nil {
			return fmt.Errorf("clearing group %s: %w", g.OriginID, err)
		}
	}

	created, err := h.book.CreateGroup(ctx, model.Group{
		OriginID:    g.OriginID,
		FolderID:    folder.ID,
		DisplayName: g.DisplayName,
		Email:       g.Email,
	})
	if err != nil {
		return fmt.Errorf("creating group %s: %w", g.OriginID, err)
	}

	if !h.cfg.GroupMembers {
		return nil
	}

	for _, memberOrigin := range g.Members {
		if err := h.attachMember(ctx, folder.ID, created.ID, memberOrigin); err != nil {
			return err
		}
	}
	return nil
}

// attachMember resolves one member reference and links it to the
// group. Unresolved members are skipped, not fatal.
func (h *Handler) attachMember(
	ctx context.Context, folderID, groupID, memberOrigin string,
) error {
	contact, err := h.book.FindContactByOrigin(ctx, folderID, memberOrigin)
	if err == nil {
		if err := h.book.AddGroupMember(ctx, model.GroupMember{
			GroupID:  groupID,
			Kind:     model.MemberContact,
			MemberID: contact.ID,
		}); err != nil {
			return fmt.Errorf("linking member %s: %w", memberOrigin, err)
		}
		return nil
	}
	if !store.IsNotFound(err) {
		return fmt.Errorf("resolving member %s: %w", memberOrigin, err)
	}

	nested, err := h.book.FindGroupByOrigin(ctx, folderID, memberOrigin)
	if err == nil {
		if !h.cfg.NestedGroups {
			logrus.WithField("domain", h.domain).WithField("member", memberOrigin).
				Debug("nested groups disabled, skipping group member")
			return nil
		}
		if err := h.book.AddGroupMember(ctx, model.GroupMember{
			GroupID:  groupID,
			Kind:     model.MemberGroup,
			MemberID: nested.ID,
		}); err != nil {
			return fmt.Errorf("linking nested group %s: %w", memberOrigin, err)
		}
		return nil
	}
	if !store.IsNotFound(err) {
		return fmt.Errorf("resolving member %s: %w", memberOrigin, err)
	}

	logrus.WithField("domain", h.domain).WithField("member", memberOrigin).
		Warn("group member not found, skipping")
	return nil
}

func (h *Handler) applyDelete(ctx context.Context, d *model.DeleteUpdate) error {
	folder, err := h.currentFolder(ctx)
	if err != nil {
		return err
	}
	n, err := h.book.DeleteByOrigin(ctx, folder.ID, d.OriginID)
	if err != nil {
		return fmt.Errorf("deleting records for %s: %w", d.OriginID, err)
	}
	logrus.WithField("domain", h.domain).WithField("origin", d.OriginID).
		Debugf("deleted %d records", n)
	return nil
}

func (h *Handler) applyClear(ctx context.Context) error {
	folder, err := h.currentFolder(ctx)
	if err != nil {
		return err
	}
	if err := h.book.ClearFolder(ctx, folder.ID); err != nil {
		return fmt.Errorf("clearing folder for %s: %w", h.domain, err)
	}
	return nil
}

// FullResync rebuilds the domain's address book from scratch: the
// backing folder is optionally deleted, then every available update
// message is replayed in arrival order. The rebuild runs inside a
// tracker nested under parent, so an umbrella scope spanning several
// domains completes only when every domain has finished. Requesting a
// resync while one is already running on the same domain is a
// programming error.
func (h *Handler) FullResync(ctx context.Context, parent *completion.Tracker) {
	h.mu.Lock()
	if h.state == StateResyncing {
		h.mu.Unlock()
		panic("gab: concurrent resync for domain " + h.domain)
	}
	if h.active == "" {
		h.mu.Unlock()
		return
	}
	m := h.members[h.active]
	h.mu.Unlock()

	if m.account.GABFolder == "" {
		logrus.WithField("domain", h.domain).
			Warn("cannot resync, update folder unknown")
		return
	}

	tracker := completion.NewChild(parent, nil)
	handle := tracker.Begin()
	defer handle.End()

	h.procMu.Lock()
	defer h.procMu.Unlock()

	prev := h.setState(StateResyncing)
	defer h.setState(prev)

	if h.cfg.DeleteExistingFolder {
		h.mu.Lock()
		folder := h.folder
		h.folder = nil
		h.mu.Unlock()

		if folder != nil {
			if err := h.book.DeleteFolder(ctx, folder.ID); err != nil {
				logrus.WithField("domain", h.domain).
					Errorf("deleting folder before resync: %v", err)
			}
		}
	}

	if _, err := h.ensureFolder(ctx, m.account.ID); err != nil {
		logrus.WithField("domain", h.domain).
			Errorf("recreating folder for resync: %v", err)
		return
	}

	updates, err := m.channel.List(ctx, m.account.GABFolder)
	if err != nil {
		logrus.WithField("domain", h.domain).
			Errorf("listing update messages for resync: %v", err)
		return
	}

	logrus.WithField("domain", h.domain).
		Infof("resyncing address book from %d update messages", len(updates))

	for _, msg := range updates {
		h.processOne(ctx, msg, tracker)
	}
}

// Teardown stops the watch and detaches everything, optionally
// deleting the backing folder.
func (h *Handler) Teardown(ctx context.Context, deleteFolder bool) {
	h.mu.Lock()
	if h.watch != nil {
		h.watch.Cancel()
		h.watch = nil
	}
	h.members = make(map[model.AccountID]member)
	h.order = nil
	h.active = ""
	h.state = StateDetached
	folder := h.folder
	h.folder = nil
	h.mu.Unlock()

	if deleteFolder && folder != nil {
		if err := h.book.DeleteFolder(ctx, folder.ID); err != nil {
			logrus.WithField("domain", h.domain).
				Errorf("deleting folder on teardown: %v", err)
		}
	}
}

// currentFolder returns the backing folder, creating it on first use.
func (h *Handler) currentFolder(ctx context.Context) (*model.Folder, error) {
	h.mu.Lock()
	folder := h.folder
	active := h.active
	h.mu.Unlock()

	if folder != nil {
		return folder, nil
	}
	if active == "" {
		return nil, fmt.Errorf("domain %s has no active account", h.domain)
	}
	return h.ensureFolder(ctx, active)
}

// ensureFolder adopts or creates the domain's local backing folder.
func (h *Handler) ensureFolder(
	ctx context.Context, accountID model.AccountID,
) (*model.Folder, error) {
	folder, err := h.book.EnsureFolder(
		ctx, h.domain, "Global Address Book ("+h.domain+")", accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring folder for %s: %w", h.domain, err)
	}

	h.mu.Lock()
	h.folder = folder
	h.mu.Unlock()
	return folder, nil
}

// setState swaps the lifecycle phase and returns the previous one.
func (h *Handler) setState(s State) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.state
	h.state = s
	return prev
}
