package models

type ClientEventType string

const (
	ClientEventJoinRoom      ClientEventType = "joinRoom"
	ClientEventLeaveRoom     ClientEventType = "leaveRoom"
	ClientEventSendMessage   ClientEventType = "sendMessage"
	ClientEventEditMessage   ClientEventType = "editMessage"
	ClientEventDeleteMessage ClientEventType = "deleteMessage"
	ClientEventPinMessage    ClientEventType = "pinMessage"
	ClientEventAddReaction   ClientEventType = "addReaction"
	ClientEventTyping        ClientEventType = "typing"
	ClientEventResync        ClientEventType = "resync"
)

// ClientEvent is the single inbound frame shape. Which fields matter
// depends on Type; unused fields stay empty on the wire.
type ClientEvent struct {
	Type            ClientEventType `json:"type"`
	RoomID          string          `json:"roomId,omitempty"`
	MessageID       string          `json:"messageId,omitempty"`
	Content         string          `json:"content,omitempty"`
	Kind            MessageKind     `json:"kind,omitempty"`
	ClientMessageID string          `json:"clientMessageId,omitempty"`
	Attachments     []Attachment    `json:"attachments,omitempty"`
	Emoji           string          `json:"emoji,omitempty"`
	IsTyping        bool            `json:"isTyping,omitempty"`
	Cursors         []RoomCursor    `json:"cursors,omitempty"`
}

// RoomCursor is the client's last confirmed position in a room,
// presented during resync.
type RoomCursor struct {
	RoomID      string `json:"roomId"`
	LastSeenSeq int64  `json:"lastSeenSeq"`
}

type ServerEventType string

const (
	ServerEventMembershipAck  ServerEventType = "membershipAck"
	ServerEventUserJoined     ServerEventType = "userJoined"
	ServerEventUserLeft       ServerEventType = "userLeft"
	ServerEventNewMessage     ServerEventType = "newMessage"
	ServerEventMessageUpdated ServerEventType = "messageUpdated"
	ServerEventMessageDeleted ServerEventType = "messageDeleted"
	ServerEventMessagePinned  ServerEventType = "messagePinned"
	ServerEventReaction       ServerEventType = "reaction"
	ServerEventTypingStart    ServerEventType = "typingStart"
	ServerEventTypingStop     ServerEventType = "typingStop"
	ServerEventResyncResult   ServerEventType = "resyncResult"
	ServerEventError          ServerEventType = "error"
)

// ServerEvent is the single outbound frame shape.
type ServerEvent struct {
	Type        ServerEventType     `json:"type"`
	RoomID      string              `json:"roomId,omitempty"`
	Identity    *Identity           `json:"identity,omitempty"`
	OnlineCount int                 `json:"onlineCount,omitempty"`
	Message     *Message            `json:"message,omitempty"`
	MessageID   string              `json:"messageId,omitempty"`
	Members     []Identity          `json:"members,omitempty"`
	Pinned      []string            `json:"pinned,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	Rooms       []RoomResync        `json:"rooms,omitempty"`
	Error       *EventError         `json:"error,omitempty"`
}

// RoomResync is the per-room slice of a resyncResult: the authoritative
// snapshot plus the bounded message backlog since the client's cursor.
// Truncated tells the client the gap exceeded the backlog limit and it
// must render a history-gap marker instead of assuming continuity.
type RoomResync struct {
	RoomID    string     `json:"roomId"`
	Members   []Identity `json:"members"`
	Pinned    []string   `json:"pinned,omitempty"`
	Messages  []Message  `json:"messages,omitempty"`
	Truncated bool       `json:"truncated"`
}

type ErrorCode string

const (
	ErrorCodeUnauthenticated ErrorCode = "unauthenticated"
	ErrorCodeForbidden       ErrorCode = "forbidden"
	ErrorCodeNotFound        ErrorCode = "not_found"
	ErrorCodeValidation      ErrorCode = "validation_error"
	ErrorCodeRateLimited     ErrorCode = "rate_limited"
	ErrorCodeConflict        ErrorCode = "conflict"
	ErrorCodeRoomFull        ErrorCode = "room_full"
	ErrorCodeBanned          ErrorCode = "banned"
)

// EventError is delivered only to the originating connection. Cause and
// ClientMessageID correlate it back to the client event that failed.
type EventError struct {
	Code            ErrorCode       `json:"code"`
	Message         string          `json:"message"`
	Cause           ClientEventType `json:"cause,omitempty"`
	ClientMessageID string          `json:"clientMessageId,omitempty"`
}
