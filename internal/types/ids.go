// internal/types/ids.go
package types

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type AccountID string
type RecordID string
type RoomID string
type ParticipantID string

// idNamespace seeds every derived identifier so ids are stable across
// processes and restarts.
var idNamespace = uuid.MustParse("6f1c2a8e-4b0d-5c3e-9a57-2d8e4f61b0c9")

// derive hashes the length-prefixed parts, so no two part lists share a
// name however the parts themselves are spelled.
func derive(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return uuid.NewSHA1(idNamespace, []byte(b.String())).String()
}

// NewRecordID derives the record id for an item id within an account scope.
func NewRecordID(itemID string, account AccountID) RecordID {
	return RecordID(derive(itemID, string(account)))
}

// NewRoomID derives the room id for a conversation id within an account scope.
func NewRoomID(conversationID string, account AccountID) RoomID {
	return RoomID(derive(conversationID, string(account)))
}

// NewParticipantID derives the participant id for a remote author.
func NewParticipantID(authorID string) ParticipantID {
	return ParticipantID(derive(authorID))
}

// AgentParticipantID is the account's own internal identity.
func AgentParticipantID(account AccountID) ParticipantID {
	return ParticipantID(derive("agent", string(account)))
}

// KeySegment escapes an opaque remote id for use as one cache key segment.
// Separators, colons and backslashes are percent-encoded, and ids made only
// of dots are encoded in full. Plain numeric ids come back unchanged.
func KeySegment(id string) string {
	if strings.Trim(id, ".") == "" {
		return strings.Repeat("%2E", len(id))
	}
	return url.QueryEscape(id)
}

// CacheKey joins key parts with the fixed <namespace>/<account>/<facet>
// convention.
func CacheKey(namespace string, account AccountID, facet ...string) string {
	parts := append([]string{namespace, string(account)}, facet...)
	return strings.Join(parts, "/")
}
