package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"github.com/nhle/gwsync/internal/model"
)

// watchInterval is how often a watched folder is checked for new items.
const watchInterval = 30 * time.Second

// IMAPChannel implements Channel over an IMAP mailbox, connecting per
// call. Folder watching polls for UIDs above the last seen one.
type IMAPChannel struct {
	host     string
	port     string
	username string
	password string
	tls      bool
}

// NewIMAPChannel creates a new IMAP channel configuration.
func NewIMAPChannel(
	host, port, username, password string, tls bool,
) *IMAPChannel {
	return &IMAPChannel{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
	}
}

// connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (c *IMAPChannel) connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &TransientError{Op: "dial " + addr, Err: err}
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authenticating %s: %w", c.username, err)
	}

	return client, nil
}

// List returns all update messages currently in the folder in arrival
// order. Items whose body cannot be parsed are returned with kind
// Unknown so the pipeline can skip and count them.
func (c *IMAPChannel) List(
	ctx context.Context, folder string,
) ([]model.UpdateMessage, error) {
	msgs, _, err := c.listAbove(ctx, folder, 0)
	return msgs, err
}

// Fetch returns the single update message with the given item id,
// which for this channel is the message UID.
func (c *IMAPChannel) Fetch(
	ctx context.Context, folder, itemID string,
) (*model.UpdateMessage, error) {
	uid, err := strconv.ParseUint(itemID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid item id %q: %w", itemID, err)
	}

	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, &TransientError{Op: "select " + folder, Err: err}
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("item %s not found in %s", itemID, folder)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, &TransientError{Op: "fetch " + folder, Err: err}
	}

	update, err := parseUpdateItem(itemID, buf.FindBodySection(bodySection))
	if err != nil {
		return nil, err
	}
	return &update, nil
}

// listAbove fetches all messages with UID greater than minUID and
// returns them with the highest UID seen.
func (c *IMAPChannel) listAbove(
	ctx context.Context, folder string, minUID uint32,
) ([]model.UpdateMessage, uint32, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, minUID, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, minUID, &TransientError{Op: "select " + folder, Err: err}
	}

	criteria := &imap.SearchCriteria{}
	if minUID > 0 {
		uidSet := imap.UIDSet{}
		uidSet.AddRange(imap.UID(minUID+1), 0)
		criteria.UID = []imap.UIDSet{uidSet}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, minUID, &TransientError{Op: "search " + folder, Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, minUID, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	byUID := make(map[uint32]model.UpdateMessage, len(uids))
	highest := minUID
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		uid := uint32(buf.UID)
		if uid > highest {
			highest = uid
		}

		itemID := strconv.FormatUint(uint64(uid), 10)
		update, err := parseUpdateItem(itemID, buf.FindBodySection(bodySection))
		if err != nil {
			logrus.WithField("folder", folder).WithField("uid", uid).
				Warnf("skipping unparseable update message: %v", err)
			update = model.UpdateMessage{ItemID: itemID, Kind: model.UpdateUnknown}
		}
		byUID[uid] = update
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, minUID, &TransientError{Op: "fetch " + folder, Err: err}
	}

	// Arrival order is UID order.
	updates := make([]model.UpdateMessage, 0, len(byUID))
	for _, uid := range uids {
		if u, ok := byUID[uint32(uid)]; ok {
			updates = append(updates, u)
		}
	}

	return updates, highest, nil
}

// watchSubscription stops a folder watch loop when cancelled.
type watchSubscription struct {
	stop sync.Once
	ch   chan struct{}
}

func (w *watchSubscription) Cancel() {
	w.stop.Do(func() { close(w.ch) })
}

// Watch polls the folder for new messages and invokes fn for each, in
// arrival order. Transient failures are logged and retried on the next
// tick.
func (c *IMAPChannel) Watch(
	folder string, fn func(model.UpdateMessage),
) (Subscription, error) {
	sub := &watchSubscription{ch: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()

		var lastUID uint32
		// Establish the baseline so only genuinely new items fire.
		ctx, cancel := context.WithTimeout(context.Background(), watchInterval)
		_, highest, err := c.listAbove(ctx, folder, 0)
		cancel()
		if err != nil {
			logrus.WithField("folder", folder).
				Warnf("watch baseline failed, starting from zero: %v", err)
		} else {
			lastUID = highest
		}

		for {
			select {
			case <-sub.ch:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), watchInterval)
				updates, highest, err := c.listAbove(ctx, folder, lastUID)
				cancel()
				if err != nil {
					logrus.WithField("folder", folder).
						Warnf("watch poll failed: %v", err)
					continue
				}
				lastUID = highest
				for _, u := range updates {
					fn(u)
				}
			}
		}
	}()

	return sub, nil
}

// parseUpdateItem extracts the text body of a raw message and parses it
// as an update payload.
func parseUpdateItem(itemID string, raw []byte) (model.UpdateMessage, error) {
	if raw == nil {
		return model.UpdateMessage{}, fmt.Errorf("message %s has no body", itemID)
	}

	body, err := extractTextBody(raw)
	if err != nil {
		return model.UpdateMessage{}, err
	}

	return model.ParseUpdateMessage(itemID, []byte(body))
}

// extractTextBody parses a raw RFC 2822 message using go-message and
// returns the text/plain part. A body that fails MIME parsing is
// treated as plain text.
func extractTextBody(raw []byte) (string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if !strings.HasPrefix(contentType, "text/plain") &&
			!strings.HasPrefix(contentType, "application/json") {
			continue
		}

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		return string(body), nil
	}

	return "", fmt.Errorf("no usable body part")
}
