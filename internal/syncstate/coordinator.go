package syncstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/gwsync/internal/directory"
	"github.com/nhle/gwsync/internal/model"
	"github.com/nhle/gwsync/internal/prompt"
	"github.com/nhle/gwsync/internal/transport"
)

// pollTimeout is the maximum time allowed for a single poll cycle.
const pollTimeout = 30 * time.Second

// storeSizeThreshold maps a store size to the sync window suggested
// for it. The table is evaluated in descending size order, first
// match wins; below all thresholds the suggestion is everything.
type storeSizeThreshold struct {
	size  int64
	frame model.SyncTimeFrame
}

const gib = int64(1) << 30

var storeSizeThresholds = []storeSizeThreshold{
	{10 * gib, model.TimeFrame1Month},
	{5 * gib, model.TimeFrame3Months},
	{2 * gib, model.TimeFrame6Months},
}

// SuggestTimeFrame returns the sync window suggested for a store of
// the given size.
func SuggestTimeFrame(storeSize int64) model.SyncTimeFrame {
	for _, t := range storeSizeThresholds {
		if storeSize >= t.size {
			return t.frame
		}
	}
	return model.TimeFrameAll
}

// Restarter triggers a full resynchronization for an account after
// the user confirms a stall prompt.
type Restarter interface {
	Restart(ctx context.Context, account model.Account)
}

// accountPoller is the per-account poll loop state. Everything below
// trigger/stop is written only by the account's own goroutine.
type accountPoller struct {
	account model.Account
	session *Session
	trigger chan struct{}
	stop    chan struct{}

	lastSeenSync time.Time
	stallSince   time.Time
	stallAsked   bool
}

// Coordinator polls each account's device record on an adaptive
// schedule, feeds the counters into that account's session, and owns
// stall detection and the store-size advisory. Each account has its
// own poll goroutine; a failure while polling one account never
// touches another.
type Coordinator struct {
	cfg       model.SyncStateConfig
	client    transport.Client
	dir       *directory.Directory
	prompter  prompt.Prompter
	restarter Restarter

	ctx context.Context

	mu         sync.Mutex
	pollers    map[model.AccountID]*accountPoller
	sub        directory.Subscription
	dialogOpen bool
	running    bool
}

// NewCoordinator creates the coordinator. Dependencies are passed
// explicitly at construction.
func NewCoordinator(
	cfg model.SyncStateConfig,
	client transport.Client,
	dir *directory.Directory,
	prompter prompt.Prompter,
	restarter Restarter,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		client:    client,
		dir:       dir,
		prompter:  prompter,
		restarter: restarter,
		ctx:       context.Background(),
		pollers:   make(map[model.AccountID]*accountPoller),
	}
}

// Start subscribes to account events and begins polling every known
// account.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.ctx = ctx
	c.sub = c.dir.Subscribe(directory.Events{
		Discovered: c.addAccount,
		Removed:    func(a model.Account) { c.removeAccount(a.ID) },
	})
	c.mu.Unlock()

	for _, a := range c.dir.Accounts() {
		c.addAccount(a)
	}
}

// Stop halts all poll goroutines.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	sub := c.sub
	c.sub = nil
	pollers := c.pollers
	c.pollers = make(map[model.AccountID]*accountPoller)
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	for _, p := range pollers {
		close(p.stop)
	}
}

// SetDialogOpen records whether the progress dialog is open and
// re-arms every account's poll timer with the matching cadence.
func (c *Coordinator) SetDialogOpen(open bool) {
	c.mu.Lock()
	c.dialogOpen = open
	pollers := c.snapshotPollers()
	c.mu.Unlock()

	for _, p := range pollers {
		select {
		case p.trigger <- struct{}{}:
		default:
		}
	}
}

// Refresh triggers an immediate poll of one account.
func (c *Coordinator) Refresh(id model.AccountID) {
	c.mu.Lock()
	p, ok := c.pollers[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Session returns the session for an account, if one exists.
func (c *Coordinator) Session(id model.AccountID) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pollers[id]
	if !ok {
		return nil, false
	}
	return p.session, true
}

// GlobalPercentage aggregates every account's counters into one
// figure: counters are summed first, then the shared formula applies.
func (c *Coordinator) GlobalPercentage() int {
	c.mu.Lock()
	pollers := c.snapshotPollers()
	c.mu.Unlock()

	var total, done int64
	for _, p := range pollers {
		t, d := p.session.Counters()
		total += t
		done += d
	}
	return Percentage(done, total)
}

// IsSyncing reports whether any account is currently syncing.
func (c *Coordinator) IsSyncing() bool {
	c.mu.Lock()
	pollers := c.snapshotPollers()
	c.mu.Unlock()

	for _, p := range pollers {
		if p.session.IsSyncing() {
			return true
		}
	}
	return false
}

func (c *Coordinator) addAccount(a model.Account) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	if _, ok := c.pollers[a.ID]; ok {
		c.mu.Unlock()
		return
	}
	p := &accountPoller{
		account: a,
		session: NewSession(),
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	c.pollers[a.ID] = p
	c.mu.Unlock()

	go c.pollAccount(p)
}

func (c *Coordinator) removeAccount(id model.AccountID) {
	c.mu.Lock()
	p, ok := c.pollers[id]
	delete(c.pollers, id)
	c.mu.Unlock()

	if ok {
		close(p.stop)
	}
}

// pollAccount runs the poll loop for a single account. The ticker is
// re-armed after every cycle so cadence flips (sync started or
// stopped, dialog opened or closed) take effect immediately.
func (c *Coordinator) pollAccount(p *accountPoller) {
	c.pollOnce(p)

	ticker := time.NewTicker(c.periodFor(p))
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			c.pollOnce(p)
		case <-p.trigger:
			c.pollOnce(p)
		}
		ticker.Reset(c.periodFor(p))
	}
}

// periodFor selects the poll cadence from the account's sync state and
// the dialog visibility.
func (c *Coordinator) periodFor(p *accountPoller) time.Duration {
	c.mu.Lock()
	dialogOpen := c.dialogOpen
	c.mu.Unlock()

	syncing := p.session.IsSyncing()
	switch {
	case syncing && dialogOpen:
		return c.cfg.CheckPeriodDialogSync
	case syncing:
		return c.cfg.CheckPeriodSync
	default:
		// Idle accounts keep polling at the slow cadence so stall
		// detection still observes the last-sync time.
		return c.cfg.CheckPeriodDialogNoSync
	}
}

// pollOnce performs one poll cycle for the account. Any failure is
// logged and leaves the session unchanged.
func (c *Coordinator) pollOnce(p *accountPoller) {
	// Pick up account detail changes, notably a confirmed server
	// version or an updated sync window.
	if a, ok := c.dir.Get(p.account.ID); ok {
		p.account = a
	}

	ctx, cancel := context.WithTimeout(c.ctx, pollTimeout)
	defer cancel()

	details, err := c.client.GetDeviceDetails(ctx, p.account)
	if err != nil {
		logrus.WithField("account", p.account.ID).
			Warnf("polling device details: %v", err)
		return
	}

	p.session.Update(details)

	if c.cfg.CheckStall {
		c.checkStall(ctx, p, details)
	}
	if c.cfg.CheckStoreSize && !p.account.SizeChecked {
		c.checkStoreSize(ctx, p)
	}
}

// checkStall watches for an inbox that is not actively syncing while
// its last-sync time sits still. When the condition persists past the
// configured period the user is prompted once per episode; the asked
// flag resets only when the last-sync time advances or a restart is
// triggered.
func (c *Coordinator) checkStall(
	ctx context.Context, p *accountPoller, details *transport.DeviceDetails,
) {
	// Only an advance of the last-sync time (or a restart) closes a
	// stall episode and re-arms the prompt.
	if details.LastSyncTime.After(p.lastSeenSync) {
		p.lastSeenSync = details.LastSyncTime
		p.stallSince = time.Time{}
		p.stallAsked = false
		return
	}

	// A running sync or a completed initial sync each rule out a
	// stall on their own, even with the timestamp sitting still.
	activeSync := details.InboxBackendID != "" && details.InboxBackendID != "0"
	inboxSynced := details.InboxFolderID != "" &&
		p.session.HasFolderSynced(details.InboxFolderID)
	if activeSync || inboxSynced {
		p.stallSince = time.Time{}
		return
	}

	if p.stallSince.IsZero() {
		p.stallSince = time.Now()
		return
	}
	if time.Since(p.stallSince) < c.cfg.StallPeriod || p.stallAsked {
		return
	}
	p.stallAsked = true

	logrus.WithField("account", p.account.ID).
		Warn("synchronization appears stalled")

	ok := c.prompter.AskYesNo(
		"Synchronization stalled",
		fmt.Sprintf(
			"Account %s has not synchronized since %s. "+
				"Resynchronize it from scratch?",
			p.account.Email, p.lastSeenSync.Format(time.RFC1123),
		),
	)
	if !ok {
		return
	}

	if c.restarter != nil {
		c.restarter.Restart(ctx, p.account)
	}
	p.stallSince = time.Time{}
	p.stallAsked = false
}

// checkStoreSize runs the once-per-account store-size advisory: when
// the store is over a threshold and the suggested window is tighter
// than the configured one, the user is asked once whether to apply it.
// The checked flag and any declined window live on the account record,
// so they survive restarts once the configuration is written back.
func (c *Coordinator) checkStoreSize(ctx context.Context, p *accountPoller) {
	// The device options call needs a server that understands it.
	if p.account.ServerVersion == "" {
		return
	}
	if !p.account.VersionAtLeast(2, 5) {
		c.markSizeChecked(p)
		return
	}

	info, err := c.client.GetUserStoreInfo(ctx, p.account)
	if err != nil {
		logrus.WithField("account", p.account.ID).
			Warnf("fetching store info: %v", err)
		return
	}
	c.markSizeChecked(p)

	suggested := SuggestTimeFrame(info.StoreSize)
	if suggested == model.TimeFrameAll {
		return
	}
	if !suggested.ShorterThan(p.account.SyncTimeFrame) {
		return
	}
	// A declined window is not offered again unless the store has
	// grown into a tighter suggestion.
	if p.account.RejectedTimeFrame != model.TimeFrameAll &&
		!suggested.ShorterThan(p.account.RejectedTimeFrame) {
		return
	}

	ok := c.prompter.AskYesNo(
		"Large mailbox",
		fmt.Sprintf(
			"The mailbox of %s is %.1f GB. Synchronizing only the last %s "+
				"would make it faster. Apply this window?",
			p.account.Email, float64(info.StoreSize)/float64(gib), suggested,
		),
	)
	if !ok {
		p.account.RejectedTimeFrame = suggested
		c.dir.UpdateAccount(p.account)
		return
	}

	if err := c.client.SetDeviceOptions(ctx, p.account, suggested); err != nil {
		logrus.WithField("account", p.account.ID).
			Errorf("applying sync window: %v", err)
		return
	}

	p.account.SyncTimeFrame = suggested
	c.dir.UpdateAccount(p.account)
	logrus.WithField("account", p.account.ID).
		Infof("sync window tightened to %s", suggested)
}

func (c *Coordinator) markSizeChecked(p *accountPoller) {
	p.account.SizeChecked = true
	c.dir.UpdateAccount(p.account)
}

// snapshotPollers copies the poller list. Callers must hold c.mu.
func (c *Coordinator) snapshotPollers() []*accountPoller {
	pollers := make([]*accountPoller, 0, len(c.pollers))
	for _, p := range c.pollers {
		pollers = append(pollers, p)
	}
	return pollers
}
