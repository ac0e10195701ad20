// internal/types/models.go
package types

import (
	"errors"
	"time"
)

var (
	ErrMissingIdentity = errors.New("account identity not configured")
	ErrNotFound        = errors.New("not found")
	// ErrRejected marks a request the source refused outright. Sending it
	// again will not help.
	ErrRejected = errors.New("rejected by source")
)

// Item is one fetched timeline entry, mention or search hit.
type Item struct {
	ID                   string      `json:"id"`
	ConversationID       string      `json:"conversation_id"`
	AuthorID             string      `json:"author_id"`
	AuthorName           string      `json:"author_name,omitempty"`
	Username             string      `json:"username,omitempty"`
	InReplyToID          string      `json:"in_reply_to_id,omitempty"`
	Text                 string      `json:"text"`
	CreatedAtEpochMillis int64       `json:"created_at_ms"`
	PermanentURL         string      `json:"permanent_url,omitempty"`
	Attachments          Attachments `json:"attachments,omitempty"`
}

// CreatedAt returns the item's creation time.
func (i Item) CreatedAt() time.Time {
	return time.UnixMilli(i.CreatedAtEpochMillis)
}

type Attachments struct {
	Media    []Media  `json:"media,omitempty"`
	Links    []string `json:"links,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

type Media struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
}

// Record is the persisted, deduplicated form of an Item.
type Record struct {
	ID              RecordID      `json:"id"`
	RoomID          RoomID        `json:"room_id"`
	ParticipantID   ParticipantID `json:"participant_id"`
	AccountID       AccountID     `json:"account_id"`
	ItemID          string        `json:"item_id"`
	InReplyToItemID string        `json:"in_reply_to_item_id,omitempty"`
	InReplyTo       RecordID      `json:"in_reply_to,omitempty"`
	Text            string        `json:"text"`
	URL             string        `json:"url,omitempty"`
	Source          string        `json:"source"`
	Attachments     Attachments   `json:"attachments,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	Seq             int64         `json:"seq"`
}

// Account identifies the tracked remote account.
type Account struct {
	ID         AccountID `json:"id"`
	UserID     string    `json:"user_id"`
	ScreenName string    `json:"screen_name,omitempty"`
	Bio        string    `json:"bio,omitempty"`
}

// Validate reports ErrMissingIdentity when the account cannot be scoped.
func (a Account) Validate() error {
	if a.ID == "" || a.UserID == "" {
		return ErrMissingIdentity
	}
	return nil
}

// AgentID is the account's own participant identity.
func (a Account) AgentID() ParticipantID {
	return AgentParticipantID(a.ID)
}

// Owns reports whether the item was authored by the account.
func (a Account) Owns(item Item) bool {
	return item.AuthorID != "" && item.AuthorID == a.UserID
}

// Article is a fetched web page reduced to markdown.
type Article struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}
