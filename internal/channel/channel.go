// Package channel provides the inbound update-message channel: the
// mailbox folder a groupware server pushes address-book updates into.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/gwsync/internal/model"
)

// TransientError indicates a network or transport failure while talking
// to the mailbox server. Callers skip the cycle and try again on the
// next schedule.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient channel error (%s): %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Subscription is an owned registration on a watched folder. Cancel
// releases it; teardown is this single explicit call.
type Subscription interface {
	Cancel()
}

// Channel is the contract for one account's inbound update stream.
type Channel interface {
	// List returns all update messages currently in the folder, in
	// arrival order.
	List(ctx context.Context, folder string) ([]model.UpdateMessage, error)

	// Fetch returns the single update message with the given item id.
	Fetch(ctx context.Context, folder, itemID string) (*model.UpdateMessage, error)

	// Watch registers a callback invoked for each new update message
	// appearing in the folder, in arrival order. The returned
	// subscription stops the watch when cancelled.
	Watch(folder string, fn func(model.UpdateMessage)) (Subscription, error)
}
