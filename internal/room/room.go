package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"arenachat/internal/content"
	"arenachat/internal/models"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("room is closed")

// Subscriber is a live connection registered with the room. Deliver must
// never block the caller: implementations queue the event and apply their
// own backpressure policy when the queue is full (droppable events may be
// dropped, non-droppable overflow forces a disconnect).
type Subscriber interface {
	ConnectionID() string
	Identity() models.Identity
	Deliver(ev models.ServerEvent, droppable bool)
	// Detach tells the subscriber the room is gone and it must drop its
	// subscription without calling back into the room.
	Detach(roomID string)
}

// Store is the persistence collaborator the room writes through to.
type Store interface {
	UpsertRoom(room models.Room) error
	UpsertMessage(message models.Message) error
}

// Notifier is told about messages so members without a live connection
// can be reached out-of-band. Implementations must not block.
type Notifier interface {
	MessageSent(room models.Room, msg models.Message, offlineMemberIDs []string)
}

// Ack is the direct response to a join: the authoritative snapshot the
// joiner needs before it starts receiving broadcasts.
type Ack struct {
	RoomID  string
	Members []models.Identity
	Pinned  []string
}

type Config struct {
	Room            models.Room
	Store           Store
	Notifier        Notifier
	BacklogLimit    int
	MaxPinned       int
	MaxMessageBytes int
	TypingTTL       time.Duration
	Logger          *slog.Logger
}

type typingState struct {
	identity      models.Identity
	expiresAt     time.Time
	lastBroadcast time.Time
}

// Room serializes every mutating operation on one room's state through a
// single goroutine: membership, presence, the sequence counter, the pinned
// set and typing state are touched only from inside the actor loop. That
// is what makes sequence assignment atomic per room without a global lock,
// and it keeps contention on one room from blocking any other.
type Room struct {
	cfg    Config
	logger *slog.Logger

	// All fields below are owned by the run goroutine.
	meta       models.Room
	subs       map[string]Subscriber           // connectionID -> subscriber
	presence   map[string]models.PresenceEntry // connectionID -> entry
	identities map[string]models.Identity      // identityID -> last seen identity
	online     map[string]int                  // identityID -> live connection count
	typing     map[string]*typingState         // identityID -> state
	backlog    *backlog

	ops    chan func()
	closed chan struct{}
	now    func() time.Time
}

// New creates the room and starts its actor goroutine.
// Seed contains messages recovered from the store, ascending by sequence.
func New(cfg Config, seed []models.Message) *Room {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Room{
		cfg:        cfg,
		logger:     cfg.Logger.With("room_id", cfg.Room.ID),
		meta:       cfg.Room,
		subs:       make(map[string]Subscriber),
		presence:   make(map[string]models.PresenceEntry),
		identities: make(map[string]models.Identity),
		online:     make(map[string]int),
		typing:     make(map[string]*typingState),
		backlog:    newBacklog(cfg.BacklogLimit),
		ops:        make(chan func(), 64),
		closed:     make(chan struct{}),
		now:        time.Now,
	}
	r.backlog.seed(seed)
	go r.run()
	return r
}

func (r *Room) ID() string {
	return r.cfg.Room.ID
}

func (r *Room) run() {
	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()
	for {
		select {
		case op := <-r.ops:
			op()
		case <-sweep.C:
			r.sweepTyping()
		case <-r.closed:
			return
		}
	}
}

// call runs op inside the actor loop and waits for it to finish.
func (r *Room) call(op func()) error {
	done := make(chan struct{})
	select {
	case r.ops <- func() { op(); close(done) }:
	case <-r.closed:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-r.closed:
		return ErrClosed
	}
}

// Close detaches every subscriber and stops the actor. Used when the room
// is deleted; pending operations fail with ErrClosed.
func (r *Room) Close() {
	_ = r.call(func() {
		for _, sub := range r.subs {
			sub.Detach(r.meta.ID)
		}
		r.subs = make(map[string]Subscriber)
		r.presence = make(map[string]models.PresenceEntry)
		r.identities = make(map[string]models.Identity)
		r.online = make(map[string]int)
		close(r.closed)
	})
}

// Meta returns a copy of the room's current metadata.
func (r *Room) Meta() models.Room {
	var meta models.Room
	if err := r.call(func() { meta = r.meta }); err != nil {
		return r.cfg.Room
	}
	return meta
}

// Join admits a connection. It is idempotent: joining a room the
// connection is already in returns the current ack without side effects.
// Presence is additive across devices; only an identity's first live
// connection announces userJoined.
func (r *Room) Join(sub Subscriber) (Ack, error) {
	var (
		ack Ack
		err error
	)
	if cerr := r.call(func() { ack, err = r.join(sub) }); cerr != nil {
		return Ack{}, models.ErrNotFound
	}
	return ack, err
}

func (r *Room) join(sub Subscriber) (Ack, error) {
	identity := sub.Identity()

	if r.meta.IsBanned(identity.ID) {
		return Ack{}, models.ErrBanned
	}

	if _, ok := r.subs[sub.ConnectionID()]; ok {
		return r.ack(), nil
	}

	if !r.meta.Kind.Open() && !r.meta.IsMember(identity.ID) && identity.ID != r.meta.OwnerID {
		return Ack{}, models.ErrForbidden
	}

	if r.meta.MaxMembers > 0 && r.online[identity.ID] == 0 && len(r.online) >= r.meta.MaxMembers {
		return Ack{}, models.ErrRoomFull
	}

	// Open rooms grow their member list on first join.
	if r.meta.Kind.Open() && !r.meta.IsMember(identity.ID) {
		r.meta.MemberIDs = append(r.meta.MemberIDs, identity.ID)
		r.persistRoom()
	}

	r.subs[sub.ConnectionID()] = sub
	r.identities[identity.ID] = identity
	r.presence[sub.ConnectionID()] = models.PresenceEntry{
		RoomID:       r.meta.ID,
		IdentityID:   identity.ID,
		ConnectionID: sub.ConnectionID(),
		ConnectedAt:  r.now().Unix(),
	}
	r.online[identity.ID]++

	if r.online[identity.ID] == 1 {
		r.broadcast(models.ServerEvent{
			Type:        models.ServerEventUserJoined,
			RoomID:      r.meta.ID,
			Identity:    &identity,
			OnlineCount: len(r.online),
		}, false, sub.ConnectionID())
	}

	return r.ack(), nil
}

// Leave removes a connection's presence entry. userLeft is announced only
// when the identity's last connection is gone; other devices of the same
// identity keep it present.
func (r *Room) Leave(connectionID string) {
	_ = r.call(func() { r.leave(connectionID) })
}

func (r *Room) leave(connectionID string) {
	entry, ok := r.presence[connectionID]
	if !ok {
		return
	}
	delete(r.presence, connectionID)
	delete(r.subs, connectionID)

	r.online[entry.IdentityID]--
	if r.online[entry.IdentityID] > 0 {
		return
	}
	delete(r.online, entry.IdentityID)

	identity := r.identities[entry.IdentityID]
	delete(r.identities, entry.IdentityID)

	if _, ok := r.typing[entry.IdentityID]; ok {
		delete(r.typing, entry.IdentityID)
		r.broadcastTyping(models.ServerEventTypingStop, identity)
	}

	r.broadcast(models.ServerEvent{
		Type:        models.ServerEventUserLeft,
		RoomID:      r.meta.ID,
		Identity:    &identity,
		OnlineCount: len(r.online),
	}, false, "")
}

// SendInput is a validated, sanitized message ready for sequencing.
type SendInput struct {
	Content         string
	Kind            models.MessageKind
	ClientMessageID string
	Attachments     []models.Attachment
}

// Send validates, sequences and broadcasts a new message. Content is
// sanitized and rendered before entering the actor so the room pipeline
// only pays for sequencing and fan-out.
func (r *Room) Send(author models.Identity, in SendInput) (models.Message, error) {
	if in.Kind == "" {
		in.Kind = models.MessageKindText
	}
	if err := content.Validate(in.Content, r.cfg.MaxMessageBytes); err != nil {
		if len(in.Attachments) == 0 || !errors.Is(err, content.ErrEmpty) {
			return models.Message{}, fmt.Errorf("%w: %s", models.ErrValidation, err)
		}
	}

	body := content.Sanitize(in.Content)
	// Sanitizing can strip a message down to nothing (markup-only input).
	if strings.TrimSpace(body) == "" && len(in.Attachments) == 0 {
		return models.Message{}, fmt.Errorf("%w: %s", models.ErrValidation, content.ErrEmpty)
	}
	var html string
	if in.Kind == models.MessageKindText && body != "" {
		rendered, err := content.Render(body)
		if err != nil {
			r.logger.Error("failed to render message", "error", err)
		} else {
			html = rendered
		}
	}

	var msg models.Message
	err := r.call(func() {
		r.meta.LastSeq++
		m := &models.Message{
			ID:              uuid.NewString(),
			RoomID:          r.meta.ID,
			AuthorID:        author.ID,
			Content:         body,
			HTML:            html,
			Kind:            in.Kind,
			Seq:             r.meta.LastSeq,
			ClientMessageID: in.ClientMessageID,
			CreatedAt:       r.now().Unix(),
			Attachments:     in.Attachments,
		}
		r.backlog.add(m)
		r.persistMessage(m)

		msg = *m
		r.broadcast(models.ServerEvent{
			Type:    models.ServerEventNewMessage,
			RoomID:  r.meta.ID,
			Message: &msg,
		}, false, "")

		r.notifyOffline(msg)
	})
	if err != nil {
		return models.Message{}, models.ErrNotFound
	}
	return msg, nil
}

// Edit replaces a message's content in place. Only the author may edit;
// the sequence is unchanged so ordering is preserved.
func (r *Room) Edit(editorID, messageID, newContent string) (models.Message, error) {
	if err := content.Validate(newContent, r.cfg.MaxMessageBytes); err != nil {
		return models.Message{}, fmt.Errorf("%w: %s", models.ErrValidation, err)
	}
	body := content.Sanitize(newContent)
	if strings.TrimSpace(body) == "" {
		return models.Message{}, fmt.Errorf("%w: %s", models.ErrValidation, content.ErrEmpty)
	}
	html, rerr := content.Render(body)
	if rerr != nil {
		html = ""
	}

	var (
		msg models.Message
		err error
	)
	cerr := r.call(func() {
		m, ok := r.backlog.get(messageID)
		if !ok {
			err = models.ErrNotFound
			return
		}
		if m.AuthorID != editorID {
			err = models.ErrForbidden
			return
		}
		if m.Deleted() {
			err = fmt.Errorf("%w: message already deleted", models.ErrConflict)
			return
		}

		m.Content = body
		if m.Kind == models.MessageKindText {
			m.HTML = html
		}
		m.EditedAt = r.now().Unix()
		r.persistMessage(m)

		msg = *m
		r.broadcast(models.ServerEvent{
			Type:    models.ServerEventMessageUpdated,
			RoomID:  r.meta.ID,
			Message: &msg,
		}, false, "")
	})
	if cerr != nil {
		return models.Message{}, models.ErrNotFound
	}
	return msg, err
}

// Delete tombstones a message. The sequence slot is retained for ordering
// continuity, and the broadcast carries no content so deleted text cannot
// leak to clients that missed the original.
func (r *Room) Delete(actorID, messageID string) error {
	var err error
	cerr := r.call(func() {
		m, ok := r.backlog.get(messageID)
		if !ok {
			err = models.ErrNotFound
			return
		}
		if m.AuthorID != actorID && !r.meta.IsModerator(actorID) {
			err = models.ErrForbidden
			return
		}
		if m.Deleted() {
			err = fmt.Errorf("%w: message already deleted", models.ErrConflict)
			return
		}

		m.DeletedAt = r.now().Unix()
		m.Content = ""
		m.HTML = ""
		m.Attachments = nil
		m.Reactions = nil
		r.persistMessage(m)

		r.unpinLocked(messageID)
		r.broadcast(models.ServerEvent{
			Type:      models.ServerEventMessageDeleted,
			RoomID:    r.meta.ID,
			MessageID: messageID,
		}, false, "")
	})
	if cerr != nil {
		return models.ErrNotFound
	}
	return err
}

// Pin adds a message to the room's pinned set. The set is capped; when it
// overflows the oldest pin is evicted, oldest-first, never silently
// refused.
func (r *Room) Pin(actorID, messageID string) error {
	var err error
	cerr := r.call(func() {
		if !r.meta.IsModerator(actorID) {
			err = models.ErrForbidden
			return
		}
		m, ok := r.backlog.get(messageID)
		if !ok {
			err = models.ErrNotFound
			return
		}
		if m.Deleted() {
			err = fmt.Errorf("%w: cannot pin a deleted message", models.ErrConflict)
			return
		}
		for _, id := range r.meta.PinnedMessageIDs {
			if id == messageID {
				return // already pinned, idempotent
			}
		}

		r.meta.PinnedMessageIDs = append(r.meta.PinnedMessageIDs, messageID)
		if len(r.meta.PinnedMessageIDs) > r.cfg.MaxPinned {
			r.meta.PinnedMessageIDs = r.meta.PinnedMessageIDs[1:]
		}
		r.persistRoom()

		r.broadcast(models.ServerEvent{
			Type:      models.ServerEventMessagePinned,
			RoomID:    r.meta.ID,
			MessageID: messageID,
			Pinned:    append([]string(nil), r.meta.PinnedMessageIDs...),
		}, false, "")
	})
	if cerr != nil {
		return models.ErrNotFound
	}
	return err
}

// React toggles the identity's membership in the message's reaction set
// for the emoji, then broadcasts the whole updated set rather than a
// delta so clients cannot drift on missed intermediate events.
func (r *Room) React(identityID, messageID, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: empty emoji", models.ErrValidation)
	}
	var err error
	cerr := r.call(func() {
		m, ok := r.backlog.get(messageID)
		if !ok {
			err = models.ErrNotFound
			return
		}
		if m.Deleted() {
			err = fmt.Errorf("%w: cannot react to a deleted message", models.ErrConflict)
			return
		}

		toggleReaction(m, emoji, identityID)
		r.persistMessage(m)

		reactions := make(map[string][]string, len(m.Reactions))
		for e, ids := range m.Reactions {
			reactions[e] = append([]string(nil), ids...)
		}
		r.broadcast(models.ServerEvent{
			Type:      models.ServerEventReaction,
			RoomID:    r.meta.ID,
			MessageID: messageID,
			Reactions: reactions,
		}, false, "")
	})
	if cerr != nil {
		return models.ErrNotFound
	}
	return err
}

// Typing records a typing signal. Starts are debounced: at most one
// typingStart per TTL window per identity regardless of client resends.
// Stops are immediate. All typing traffic is droppable.
func (r *Room) Typing(identity models.Identity, isTyping bool) {
	_ = r.call(func() {
		now := r.now()
		if !isTyping {
			if _, ok := r.typing[identity.ID]; !ok {
				return
			}
			delete(r.typing, identity.ID)
			r.broadcastTyping(models.ServerEventTypingStop, identity)
			return
		}

		ts, ok := r.typing[identity.ID]
		if !ok {
			ts = &typingState{identity: identity}
			r.typing[identity.ID] = ts
		}
		ts.expiresAt = now.Add(r.cfg.TypingTTL)
		if now.Sub(ts.lastBroadcast) >= r.cfg.TypingTTL {
			ts.lastBroadcast = now
			r.broadcastTyping(models.ServerEventTypingStart, identity)
		}
	})
}

// sweepTyping expires stale typing entries and announces the stop on the
// client's behalf, so indicators self-heal after a crash.
func (r *Room) sweepTyping() {
	now := r.now()
	for id, ts := range r.typing {
		if now.After(ts.expiresAt) {
			delete(r.typing, id)
			r.broadcastTyping(models.ServerEventTypingStop, ts.identity)
		}
	}
}

// Resync admits a reconnected session and returns the authoritative
// snapshot plus every retained message past the client's cursor. If the
// gap outgrew the backlog window, Truncated is set and the client must
// show a history-gap marker.
func (r *Room) Resync(sub Subscriber, lastSeenSeq int64) (models.RoomResync, error) {
	var (
		res models.RoomResync
		err error
	)
	cerr := r.call(func() {
		var ack Ack
		ack, err = r.join(sub)
		if err != nil {
			return
		}
		msgs, truncated := r.backlog.since(lastSeenSeq)
		res = models.RoomResync{
			RoomID:    r.meta.ID,
			Members:   ack.Members,
			Pinned:    ack.Pinned,
			Messages:  msgs,
			Truncated: truncated,
		}
	})
	if cerr != nil {
		return models.RoomResync{}, models.ErrNotFound
	}
	return res, err
}

// ack builds the joiner's snapshot: distinct online identities plus the
// pinned set.
func (r *Room) ack() Ack {
	seen := make(map[string]bool, len(r.online))
	members := make([]models.Identity, 0, len(r.online))
	for _, sub := range r.subs {
		identity := sub.Identity()
		if seen[identity.ID] {
			continue
		}
		seen[identity.ID] = true
		members = append(members, identity)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].DisplayName < members[j].DisplayName
	})

	return Ack{
		RoomID:  r.meta.ID,
		Members: members,
		Pinned:  append([]string(nil), r.meta.PinnedMessageIDs...),
	}
}

// broadcast fans an event out to every subscriber except exceptConn.
// Delivery is per-subscriber queued and never blocks the actor.
func (r *Room) broadcast(ev models.ServerEvent, droppable bool, exceptConn string) {
	for connID, sub := range r.subs {
		if connID == exceptConn {
			continue
		}
		sub.Deliver(ev, droppable)
	}
}

// broadcastTyping sends to everyone except the typist's own connections.
func (r *Room) broadcastTyping(evType models.ServerEventType, identity models.Identity) {
	ev := models.ServerEvent{
		Type:     evType,
		RoomID:   r.meta.ID,
		Identity: &identity,
	}
	for _, sub := range r.subs {
		if sub.Identity().ID == identity.ID {
			continue
		}
		sub.Deliver(ev, true)
	}
}

func (r *Room) notifyOffline(msg models.Message) {
	if r.cfg.Notifier == nil {
		return
	}
	var offline []string
	for _, memberID := range r.meta.MemberIDs {
		if memberID != msg.AuthorID && r.online[memberID] == 0 {
			offline = append(offline, memberID)
		}
	}
	if len(offline) > 0 {
		r.cfg.Notifier.MessageSent(r.meta, msg, offline)
	}
}

func (r *Room) unpinLocked(messageID string) {
	for i, id := range r.meta.PinnedMessageIDs {
		if id == messageID {
			r.meta.PinnedMessageIDs = append(r.meta.PinnedMessageIDs[:i], r.meta.PinnedMessageIDs[i+1:]...)
			r.persistRoom()
			return
		}
	}
}

func (r *Room) persistRoom() {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.UpsertRoom(r.meta); err != nil {
		r.logger.Error("failed to persist room", "error", err)
	}
}

func (r *Room) persistMessage(m *models.Message) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.UpsertMessage(*m); err != nil {
		r.logger.Error("failed to persist message", "seq", m.Seq, "error", err)
	}
}

// toggleReaction flips identityID's membership in m.Reactions[emoji],
// keeping each set sorted for deterministic payloads.
func toggleReaction(m *models.Message, emoji, identityID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	ids := m.Reactions[emoji]
	for i, id := range ids {
		if id == identityID {
			ids = append(ids[:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = ids
			}
			return
		}
	}
	ids = append(ids, identityID)
	sort.Strings(ids)
	m.Reactions[emoji] = ids
}
