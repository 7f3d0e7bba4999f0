package store

import (
	"context"
	"errors"

	"github.com/nhle/gwsync/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether err (or any error in its chain) is
// ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AddressBook is the persistence interface for the locally-materialized
// address books. Deletions are tombstones: deleted records stay in the
// trash until EmptyTrash purges them.
type AddressBook interface {
	// === Folders ===

	// EnsureFolder returns the live folder for domain, adopting an
	// existing one or creating it. The folder is unhidden and tagged
	// with the draining account.
	EnsureFolder(ctx context.Context, domain, name string, accountID model.AccountID) (*model.Folder, error)

	// FolderForDomain returns the live folder for domain, or
	// ErrNotFound.
	FolderForDomain(ctx context.Context, domain string) (*model.Folder, error)

	// ListFolders returns all live address-book folders.
	ListFolders(ctx context.Context) ([]model.Folder, error)

	// DeleteFolder tombstones a folder and every record inside it.
	DeleteFolder(ctx context.Context, folderID string) error

	// === Contacts ===

	CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error)
	FindContactByOrigin(ctx context.Context, folderID, originID string) (*model.Contact, error)
	ListContacts(ctx context.Context, folderID string) ([]model.Contact, error)

	// ClearContactsByOrigin tombstones all contacts in the folder
	// sharing the origin id and returns how many were cleared.
	ClearContactsByOrigin(ctx context.Context, folderID, originID string) (int, error)

	// === Groups ===

	CreateGroup(ctx context.Context, g model.Group) (*model.Group, error)
	FindGroupByOrigin(ctx context.Context, folderID, originID string) (*model.Group, error)
	ListGroups(ctx context.Context, folderID string) ([]model.Group, error)
	AddGroupMember(ctx context.Context, m model.GroupMember) error
	ListGroupMembers(ctx context.Context, groupID string) ([]model.GroupMember, error)

	// === Shared ===

	// DeleteByOrigin tombstones all contacts and groups in the folder
	// sharing the origin id and returns how many were removed.
	DeleteByOrigin(ctx context.Context, folderID, originID string) (int, error)

	// ClearFolder tombstones every record in the folder, leaving the
	// folder itself in place.
	ClearFolder(ctx context.Context, folderID string) error

	// EmptyTrash purges all tombstoned records and folders, returning
	// the number of rows removed. Safe to call repeatedly.
	EmptyTrash(ctx context.Context) (int, error)

	Close() error
}
