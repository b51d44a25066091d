package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBRoom struct {
	ID               string   `msgpack:"id"`
	Kind             string   `msgpack:"kind"`
	Name             string   `msgpack:"name"`
	OwnerID          string   `msgpack:"ownerId"`
	MemberIDs        []string `msgpack:"memberIds"`
	ModeratorIDs     []string `msgpack:"moderatorIds"`
	BannedIDs        []string `msgpack:"bannedIds"`
	PinnedMessageIDs []string `msgpack:"pinnedMessageIds"`
	MaxMembers       int      `msgpack:"maxMembers"`
	CreatedAt        int64    `msgpack:"createdAt"`
	LastSeq          int64    `msgpack:"lastSeq"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBMessage struct {
	ID              string              `msgpack:"id"`
	RoomID          string              `msgpack:"roomId"`
	AuthorID        string              `msgpack:"authorId"`
	Content         string              `msgpack:"content"`
	HTML            string              `msgpack:"html"`
	Kind            string              `msgpack:"kind"`
	Seq             int64               `msgpack:"seq"`
	ClientMessageID string              `msgpack:"clientMessageId"`
	CreatedAt       int64               `msgpack:"createdAt"`
	EditedAt        int64               `msgpack:"editedAt"`
	DeletedAt       int64               `msgpack:"deletedAt"`
	Reactions       map[string][]string `msgpack:"reactions"`
	Attachments     []DBAttachment      `msgpack:"attachments"`
}

type DBAttachment struct {
	Type     string `msgpack:"type"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	FileID   string `msgpack:"fileId"`
}

// Messages are keyed by sequence so cursor range scans return them in
// room order.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBToken struct {
	Hash        string `msgpack:"hash"`
	IdentityID  string `msgpack:"identityId"`
	DisplayName string `msgpack:"displayName"`
	AvatarURL   string `msgpack:"avatarUrl"`
	ExpiresAt   int64  `msgpack:"expiresAt"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Hash)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBPushSubscription struct {
	ID         string `msgpack:"id"`
	IdentityID string `msgpack:"identityId"`
	// Raw webpush subscription JSON as handed over by the browser.
	Subscription []byte `msgpack:"subscription"`
}

func (p *DBPushSubscription) Key() []byte {
	return []byte(p.ID)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}
