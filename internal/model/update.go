package model

import (
	"encoding/json"
	"fmt"
)

// UpdateKind is the closed set of update-message shapes the pipeline
// understands. Dispatch over it is exhaustive; anything the parser does
// not recognize becomes UpdateUnknown and is skipped, not fatal.
type UpdateKind string

const (
	// UpdateContact creates or replaces one contact record.
	UpdateContact UpdateKind = "contact"

	// UpdateGroup creates or replaces one group with member references.
	UpdateGroup UpdateKind = "group"

	// UpdateDelete removes the records sharing one origin id.
	UpdateDelete UpdateKind = "delete"

	// UpdateClear empties the whole address book before a rebuild.
	UpdateClear UpdateKind = "clear"

	// UpdateUnknown is any message shape the parser does not recognize.
	UpdateUnknown UpdateKind = "unknown"
)

// ContactUpdate is the payload of an UpdateContact message.
type ContactUpdate struct {
	OriginID    string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	Fax         string `json:"fax,omitempty"`
}

// GroupUpdate is the payload of an UpdateGroup message. Members holds
// origin ids of contacts or nested groups; resolution happens at
// processing time.
type GroupUpdate struct {
	OriginID    string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email,omitempty"`
	Members     []string `json:"members,omitempty"`
}

// DeleteUpdate is the payload of an UpdateDelete message.
type DeleteUpdate struct {
	OriginID string `json:"id"`
}

// UpdateMessage is one ordered unit from the inbound update stream.
// Exactly one payload field is set, selected by Kind.
type UpdateMessage struct {
	// ItemID identifies the mailbox item the message arrived as.
	ItemID string

	// Sequence is the server-assigned ordering number, when present.
	Sequence int

	Kind    UpdateKind
	Contact *ContactUpdate
	Group   *GroupUpdate
	Delete  *DeleteUpdate
}

// updateEnvelope is the raw JSON shape of an update message body.
type updateEnvelope struct {
	Kind     string          `json:"kind"`
	Sequence int             `json:"sequence,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// ParseUpdateMessage decodes a raw update-message body. A body that is
// not valid JSON is an error; a valid body with an unrecognized kind
// parses as UpdateUnknown so the pipeline can skip it.
func ParseUpdateMessage(itemID string, body []byte) (UpdateMessage, error) {
	var env updateEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return UpdateMessage{}, fmt.Errorf("parsing update message %s: %w", itemID, err)
	}

	msg := UpdateMessage{ItemID: itemID, Sequence: env.Sequence}

	switch UpdateKind(env.Kind) {
	case UpdateContact:
		var c ContactUpdate
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return UpdateMessage{}, fmt.Errorf("parsing contact update %s: %w", itemID, err)
		}
		msg.Kind = UpdateContact
		msg.Contact = &c

	case UpdateGroup:
		var g GroupUpdate
		if err := json.Unmarshal(env.Data, &g); err != nil {
			return UpdateMessage{}, fmt.Errorf("parsing group update %s: %w", itemID, err)
		}
		msg.Kind = UpdateGroup
		msg.Group = &g

	case UpdateDelete:
		var d DeleteUpdate
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return UpdateMessage{}, fmt.Errorf("parsing delete update %s: %w", itemID, err)
		}
		msg.Kind = UpdateDelete
		msg.Delete = &d

	case UpdateClear:
		msg.Kind = UpdateClear

	default:
		msg.Kind = UpdateUnknown
	}

	return msg, nil
}
