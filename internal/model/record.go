package model

import "time"

// Contact is a materialized address-book contact record.
type Contact struct {
	// ID is the internal row identifier, assigned by the store.
	ID string `json:"id"`

	// OriginID is the stable server-side identity key for the record.
	// All materializations of the same server entry share an OriginID.
	OriginID string `json:"origin_id"`

	// FolderID is the local address-book folder holding the record.
	FolderID string `json:"folder_id"`

	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`

	// Fax is only materialized when fax synchronization is enabled.
	Fax string `json:"fax,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Group is a materialized address-book distribution group.
type Group struct {
	// ID is the internal row identifier, assigned by the store.
	ID string `json:"id"`

	// OriginID is the stable server-side identity key for the group.
	OriginID string `json:"origin_id"`

	// FolderID is the local address-book folder holding the group.
	FolderID string `json:"folder_id"`

	DisplayName string `json:"display_name"`

	// Email is set for groups that carry their own SMTP address.
	Email string `json:"email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemberKind distinguishes the two member record types a group can hold.
type MemberKind string

const (
	MemberContact MemberKind = "contact"
	MemberGroup   MemberKind = "group"
)

// GroupMember links a group to one resolved member record.
type GroupMember struct {
	GroupID  string     `json:"group_id"`
	Kind     MemberKind `json:"kind"`
	MemberID string     `json:"member_id"`
}

// Folder describes one local address-book folder, tagged with the
// domain it mirrors.
type Folder struct {
	// ID is the internal folder identifier.
	ID string `json:"id"`

	// Domain is the mail domain this folder is the address book for.
	Domain string `json:"domain"`

	// Name is the display name of the folder.
	Name string `json:"name"`

	// AccountID is the account that currently drains updates into
	// this folder.
	AccountID AccountID `json:"account_id"`

	// Hidden marks folders not yet adopted by a live pipeline.
	Hidden bool `json:"hidden"`

	CreatedAt time.Time `json:"created_at"`
}
