package models

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrRoomFull   = errors.New("room is full")
	ErrBanned     = errors.New("banned from room")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation error")
)

// Identity is the authenticated principal attached to a connection.
// It is owned by the auth collaborator; the core only carries a reference.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type RoomKind string

const (
	RoomKindPublic  RoomKind = "public"
	RoomKindPrivate RoomKind = "private"
	RoomKindTeam    RoomKind = "team"
	RoomKindDirect  RoomKind = "direct"
	RoomKindChannel RoomKind = "channel"
	RoomKindGroup   RoomKind = "group"
)

// Open reports whether anyone may join the room without being
// listed in MemberIDs beforehand.
func (k RoomKind) Open() bool {
	return k == RoomKindPublic || k == RoomKindChannel
}

// Room holds the registry metadata and moderation state of one room.
// Live presence is tracked separately, keyed by connection.
type Room struct {
	ID               string   `json:"id"`
	Kind             RoomKind `json:"kind"`
	Name             string   `json:"name"`
	OwnerID          string   `json:"ownerId"`
	MemberIDs        []string `json:"memberIds,omitempty"`
	ModeratorIDs     []string `json:"moderatorIds,omitempty"`
	BannedIDs        []string `json:"bannedIds,omitempty"`
	PinnedMessageIDs []string `json:"pinnedMessageIds,omitempty"`
	MaxMembers       int      `json:"maxMembers,omitempty"`
	CreatedAt        int64    `json:"createdAt"`
	LastSeq          int64    `json:"lastSeq"`
}

// IsModerator reports whether the identity may pin messages and delete
// messages of other authors in this room.
func (r *Room) IsModerator(identityID string) bool {
	if identityID == r.OwnerID {
		return true
	}
	for _, id := range r.ModeratorIDs {
		if id == identityID {
			return true
		}
	}
	return false
}

func (r *Room) IsMember(identityID string) bool {
	for _, id := range r.MemberIDs {
		if id == identityID {
			return true
		}
	}
	return false
}

func (r *Room) IsBanned(identityID string) bool {
	for _, id := range r.BannedIDs {
		if id == identityID {
			return true
		}
	}
	return false
}

type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindImage  MessageKind = "image"
	MessageKindFile   MessageKind = "file"
	MessageKindSystem MessageKind = "system"
)

// Message is a chat message. Seq is assigned exactly once at broadcast
// time and is strictly increasing per room; a soft-deleted message keeps
// its slot with content stripped.
type Message struct {
	ID              string              `json:"id"`
	RoomID          string              `json:"roomId"`
	AuthorID        string              `json:"authorId"`
	Content         string              `json:"content"`
	HTML            string              `json:"html,omitempty"`
	Kind            MessageKind         `json:"kind"`
	Seq             int64               `json:"seq"`
	ClientMessageID string              `json:"clientMessageId,omitempty"`
	CreatedAt       int64               `json:"createdAt"`
	EditedAt        int64               `json:"editedAt,omitempty"`
	DeletedAt       int64               `json:"deletedAt,omitempty"`
	Reactions       map[string][]string `json:"reactions,omitempty"`
	Attachments     []Attachment        `json:"attachments,omitempty"`
}

// Deleted reports whether the message has been tombstoned.
func (m *Message) Deleted() bool {
	return m.DeletedAt != 0
}

type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeFile  AttachmentType = "file"
)

type Attachment struct {
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	FileID   string         `json:"fileId"`
}

// PresenceEntry records one live (room, connection) pair. The same
// identity may hold several entries when connected from multiple devices.
type PresenceEntry struct {
	RoomID       string `json:"roomId"`
	IdentityID   string `json:"identityId"`
	ConnectionID string `json:"connectionId"`
	ConnectedAt  int64  `json:"connectedAt"`
}
