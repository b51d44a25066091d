package room

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arenachat/internal/models"

	"github.com/stretchr/testify/require"
)

type delivered struct {
	ev        models.ServerEvent
	droppable bool
}

type stubSub struct {
	id       string
	identity models.Identity

	mu       sync.Mutex
	events   []delivered
	detached []string
}

func newStubSub(connID, identityID, displayName string) *stubSub {
	return &stubSub{
		id:       connID,
		identity: models.Identity{ID: identityID, DisplayName: displayName},
	}
}

func (s *stubSub) ConnectionID() string      { return s.id }
func (s *stubSub) Identity() models.Identity { return s.identity }

func (s *stubSub) Deliver(ev models.ServerEvent, droppable bool) {
	s.mu.Lock()
	s.events = append(s.events, delivered{ev: ev, droppable: droppable})
	s.mu.Unlock()
}

func (s *stubSub) Detach(roomID string) {
	s.mu.Lock()
	s.detached = append(s.detached, roomID)
	s.mu.Unlock()
}

func (s *stubSub) eventsOf(evType models.ServerEventType) []models.ServerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ServerEvent
	for _, d := range s.events {
		if d.ev.Type == evType {
			out = append(out, d.ev)
		}
	}
	return out
}

func (s *stubSub) lastOf(t *testing.T, evType models.ServerEventType) models.ServerEvent {
	t.Helper()
	evs := s.eventsOf(evType)
	require.NotEmpty(t, evs, "no %s delivered", evType)
	return evs[len(evs)-1]
}

type recordingStore struct {
	mu       sync.Mutex
	rooms    []models.Room
	messages []models.Message
}

func (s *recordingStore) UpsertRoom(room models.Room) error {
	s.mu.Lock()
	s.rooms = append(s.rooms, room)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) UpsertMessage(message models.Message) error {
	s.mu.Lock()
	s.messages = append(s.messages, message)
	s.mu.Unlock()
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	offline [][]string
}

func (n *recordingNotifier) MessageSent(_ models.Room, _ models.Message, offlineMemberIDs []string) {
	n.mu.Lock()
	n.offline = append(n.offline, offlineMemberIDs)
	n.mu.Unlock()
}

func testConfig(meta models.Room) Config {
	return Config{
		Room:            meta,
		BacklogLimit:    32,
		MaxPinned:       3,
		MaxMessageBytes: 4096,
		TypingTTL:       4 * time.Second,
	}
}

func newTestRoom(t *testing.T, cfg Config) *Room {
	t.Helper()
	r := New(cfg, nil)
	t.Cleanup(r.Close)
	return r
}

func TestJoinAnnouncesOnlyFirstConnection(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	a := newStubSub("c-a", "alice", "Alice")
	_, err := r.Join(a)
	require.NoError(t, err)

	b1 := newStubSub("c-b1", "bob", "Bob")
	b2 := newStubSub("c-b2", "bob", "Bob")

	_, err = r.Join(b1)
	require.NoError(t, err)
	_, err = r.Join(b2)
	require.NoError(t, err)

	joins := a.eventsOf(models.ServerEventUserJoined)
	require.Len(t, joins, 1)
	require.Equal(t, "bob", joins[0].Identity.ID)
	require.Equal(t, 2, joins[0].OnlineCount)

	// The joiner itself never receives its own userJoined.
	require.Empty(t, b1.eventsOf(models.ServerEventUserJoined))
}

func TestJoinIdempotent(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	a := newStubSub("c-a", "alice", "Alice")
	sub := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(a)
	require.NoError(t, err)

	first, err := r.Join(sub)
	require.NoError(t, err)
	second, err := r.Join(sub)
	require.NoError(t, err)

	require.Equal(t, first.RoomID, second.RoomID)
	require.Equal(t, first.Members, second.Members)
	require.Len(t, a.eventsOf(models.ServerEventUserJoined), 1)
}

func TestJoinAckSnapshot(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{
		ID:               "arena",
		Kind:             models.RoomKindPublic,
		PinnedMessageIDs: []string{"pin-1"},
	}))

	_, err := r.Join(newStubSub("c-b", "bob", "Bob"))
	require.NoError(t, err)

	ack, err := r.Join(newStubSub("c-a", "alice", "Alice"))
	require.NoError(t, err)
	require.Equal(t, "arena", ack.RoomID)
	require.Equal(t, []string{"pin-1"}, ack.Pinned)
	require.Len(t, ack.Members, 2)
	require.Equal(t, "Alice", ack.Members[0].DisplayName)
	require.Equal(t, "Bob", ack.Members[1].DisplayName)
}

func TestJoinBanned(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{
		ID:        "arena",
		Kind:      models.RoomKindPublic,
		BannedIDs: []string{"mallory"},
	}))

	_, err := r.Join(newStubSub("c-m", "mallory", "Mallory"))
	require.ErrorIs(t, err, models.ErrBanned)
}

func TestJoinClosedRoomMembersOnly(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{
		ID:        "team",
		Kind:      models.RoomKindTeam,
		OwnerID:   "owner",
		MemberIDs: []string{"owner", "alice"},
	}))

	_, err := r.Join(newStubSub("c-s", "stranger", "Stranger"))
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = r.Join(newStubSub("c-a", "alice", "Alice"))
	require.NoError(t, err)
	_, err = r.Join(newStubSub("c-o", "owner", "Owner"))
	require.NoError(t, err)
}

func TestJoinRoomFull(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{
		ID:         "arena",
		Kind:       models.RoomKindPublic,
		MaxMembers: 1,
	}))

	_, err := r.Join(newStubSub("c-a", "alice", "Alice"))
	require.NoError(t, err)

	_, err = r.Join(newStubSub("c-b", "bob", "Bob"))
	require.ErrorIs(t, err, models.ErrRoomFull)

	// Another device of an identity already online does not count twice.
	_, err = r.Join(newStubSub("c-a2", "alice", "Alice"))
	require.NoError(t, err)
}

func TestOpenRoomJoinGrowsMembership(t *testing.T) {
	store := &recordingStore{}
	cfg := testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic})
	cfg.Store = store
	r := newTestRoom(t, cfg)

	_, err := r.Join(newStubSub("c-a", "alice", "Alice"))
	require.NoError(t, err)

	require.Contains(t, r.Meta().MemberIDs, "alice")
	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.rooms)
}

func TestLeaveMultiDevice(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	a := newStubSub("c-a", "alice", "Alice")
	_, err := r.Join(a)
	require.NoError(t, err)

	b1 := newStubSub("c-b1", "bob", "Bob")
	b2 := newStubSub("c-b2", "bob", "Bob")
	_, err = r.Join(b1)
	require.NoError(t, err)
	_, err = r.Join(b2)
	require.NoError(t, err)

	r.Leave("c-b1")
	require.Empty(t, a.eventsOf(models.ServerEventUserLeft))

	r.Leave("c-b2")
	lefts := a.eventsOf(models.ServerEventUserLeft)
	require.Len(t, lefts, 1)
	require.Equal(t, "bob", lefts[0].Identity.ID)
	require.Equal(t, "Bob", lefts[0].Identity.DisplayName)
	require.Equal(t, 1, lefts[0].OnlineCount)
}

func TestLeaveUnknownConnectionIsNoop(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))
	a := newStubSub("c-a", "alice", "Alice")
	_, err := r.Join(a)
	require.NoError(t, err)

	r.Leave("never-joined")
	require.Empty(t, a.eventsOf(models.ServerEventUserLeft))
}

func TestSendSequencesAndBroadcasts(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	a := newStubSub("c-a", "alice", "Alice")
	b := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(a)
	require.NoError(t, err)
	_, err = r.Join(b)
	require.NoError(t, err)

	msg, err := r.Send(a.identity, SendInput{Content: "hello *world*", ClientMessageID: "c-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), msg.Seq)
	require.Equal(t, "c-1", msg.ClientMessageID)
	require.Contains(t, msg.HTML, "<em>world</em>")

	// Author included in the fan-out; echo carries the assigned seq.
	require.Len(t, a.eventsOf(models.ServerEventNewMessage), 1)
	ev := b.lastOf(t, models.ServerEventNewMessage)
	require.Equal(t, int64(1), ev.Message.Seq)
	require.Equal(t, "alice", ev.Message.AuthorID)
}

func TestSendConcurrentSequencesAreDense(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	sub := newStubSub("c-a", "alice", "Alice")
	_, err := r.Join(sub)
	require.NoError(t, err)

	const senders = 4
	const perSender = 25
	var count atomic.Int64
	var wg sync.WaitGroup
	seqs := make(chan int64, senders*perSender)
	for i := 0; i < senders; i++ {
		author := models.Identity{ID: fmt.Sprintf("u%d", i)}
		wg.Go(func() {
			for j := 0; j < perSender; j++ {
				m, err := r.Send(author, SendInput{Content: "x"})
				if err == nil {
					count.Add(1)
					seqs <- m.Seq
				}
			}
		})
	}
	wg.Wait()
	close(seqs)

	require.Equal(t, int64(senders*perSender), count.Load())
	seen := make(map[int64]bool)
	for seq := range seqs {
		require.False(t, seen[seq], "duplicate seq %d", seq)
		seen[seq] = true
	}
	for seq := int64(1); seq <= senders*perSender; seq++ {
		require.True(t, seen[seq], "missing seq %d", seq)
	}

	// Observers see the same total order: strictly ascending sequences.
	evs := sub.eventsOf(models.ServerEventNewMessage)
	require.Len(t, evs, senders*perSender)
	for i := 1; i < len(evs); i++ {
		require.Greater(t, evs[i].Message.Seq, evs[i-1].Message.Seq)
	}
}

func TestSendValidation(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))
	author := models.Identity{ID: "alice"}

	_, err := r.Send(author, SendInput{Content: "   "})
	require.ErrorIs(t, err, models.ErrValidation)

	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'a'
	}
	_, err = r.Send(author, SendInput{Content: string(big)})
	require.ErrorIs(t, err, models.ErrValidation)

	// Attachment-only messages are allowed to have no text body.
	msg, err := r.Send(author, SendInput{
		Kind:        models.MessageKindImage,
		Attachments: []models.Attachment{{Type: models.AttachmentTypeImage, Name: "shot.png", FileID: "f-1"}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), msg.Seq)
}

func TestSendStripsMarkup(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{
		Content: `hi <script>alert("x")</script>`,
	})
	require.NoError(t, err)
	require.NotContains(t, msg.Content, "<script>")
	require.NotContains(t, msg.HTML, "<script>")
}

func TestSendRejectsMarkupOnlyContent(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))
	b := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(b)
	require.NoError(t, err)

	// Sanitizing strips the whole thing, leaving nothing to broadcast.
	_, err = r.Send(models.Identity{ID: "alice"}, SendInput{
		Content: `<script>alert("x")</script>`,
	})
	require.ErrorIs(t, err, models.ErrValidation)
	require.Empty(t, b.eventsOf(models.ServerEventNewMessage))

	// With an attachment the empty body is fine.
	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{
		Content: `<script>alert("x")</script>`,
		Attachments: []models.Attachment{
			{Type: models.AttachmentTypeImage, Name: "shot.png", FileID: "f-1"},
		},
	})
	require.NoError(t, err)
	require.Empty(t, msg.Content)
}

func TestEditRejectsMarkupOnlyContent(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{Content: "first"})
	require.NoError(t, err)

	_, err = r.Edit("alice", msg.ID, `<style>body{}</style>`)
	require.ErrorIs(t, err, models.ErrValidation)

	res, err := r.Resync(newStubSub("c-a", "alice", "Alice"), 0)
	require.NoError(t, err)
	require.Equal(t, "first", res.Messages[len(res.Messages)-1].Content)
}

func TestEditMessage(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))
	b := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(b)
	require.NoError(t, err)

	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{Content: "first"})
	require.NoError(t, err)

	edited, err := r.Edit("alice", msg.ID, "second")
	require.NoError(t, err)
	require.Equal(t, msg.Seq, edited.Seq)
	require.Equal(t, "second", edited.Content)
	require.NotZero(t, edited.EditedAt)

	ev := b.lastOf(t, models.ServerEventMessageUpdated)
	require.Equal(t, "second", ev.Message.Content)

	_, err = r.Edit("bob", msg.ID, "hijack")
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = r.Edit("alice", "missing", "whatever")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteTombstones(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))
	b := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(b)
	require.NoError(t, err)

	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{Content: "secret"})
	require.NoError(t, err)

	require.NoError(t, r.Delete("alice", msg.ID))

	ev := b.lastOf(t, models.ServerEventMessageDeleted)
	require.Equal(t, msg.ID, ev.MessageID)
	require.Nil(t, ev.Message)

	// The tombstone keeps its sequence slot but sheds all content, so a
	// resync after the delete cannot leak the original text.
	res, err := r.Resync(newStubSub("c-c", "carol", "Carol"), 0)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	require.Equal(t, msg.Seq, res.Messages[0].Seq)
	require.True(t, res.Messages[0].Deleted())
	require.Empty(t, res.Messages[0].Content)
	require.Empty(t, res.Messages[0].HTML)

	require.ErrorIs(t, r.Delete("alice", msg.ID), models.ErrConflict)
	_, err = r.Edit("alice", msg.ID, "resurrect")
	require.ErrorIs(t, err, models.ErrConflict)
}

func TestDeletePermissions(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{
		ID:           "arena",
		Kind:         models.RoomKindPublic,
		ModeratorIDs: []string{"mod"},
	}))

	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{Content: "hi"})
	require.NoError(t, err)

	require.ErrorIs(t, r.Delete("bob", msg.ID), models.ErrForbidden)
	require.NoError(t, r.Delete("mod", msg.ID))
}

func TestPinCapEvictsOldest(t *testing.T) {
	cfg := testConfig(models.Room{
		ID:           "arena",
		Kind:         models.RoomKindPublic,
		ModeratorIDs: []string{"mod"},
	})
	cfg.MaxPinned = 2
	r := newTestRoom(t, cfg)

	var ids []string
	for i := 0; i < 3; i++ {
		m, err := r.Send(models.Identity{ID: "alice"}, SendInput{Content: "pin me"})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	require.ErrorIs(t, r.Pin("alice", ids[0]), models.ErrForbidden)

	require.NoError(t, r.Pin("mod", ids[0]))
	require.NoError(t, r.Pin("mod", ids[1]))
	require.NoError(t, r.Pin("mod", ids[2]))

	require.Equal(t, []string{ids[1], ids[2]}, r.Meta().PinnedMessageIDs)

	// Re-pinning is idempotent.
	require.NoError(t, r.Pin("mod", ids[2]))
	require.Equal(t, []string{ids[1], ids[2]}, r.Meta().PinnedMessageIDs)
}

func TestDeleteUnpins(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{
		ID:           "arena",
		Kind:         models.RoomKindPublic,
		ModeratorIDs: []string{"mod"},
	}))

	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{Content: "pinned"})
	require.NoError(t, err)
	require.NoError(t, r.Pin("mod", msg.ID))
	require.NoError(t, r.Delete("mod", msg.ID))
	require.Empty(t, r.Meta().PinnedMessageIDs)
}

func TestReactToggle(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))
	b := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(b)
	require.NoError(t, err)

	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{Content: "react to me"})
	require.NoError(t, err)

	require.NoError(t, r.React("bob", msg.ID, "🔥"))
	require.NoError(t, r.React("alice", msg.ID, "🔥"))
	ev := b.lastOf(t, models.ServerEventReaction)
	require.Equal(t, []string{"alice", "bob"}, ev.Reactions["🔥"])

	// Same identity again removes it.
	require.NoError(t, r.React("bob", msg.ID, "🔥"))
	ev = b.lastOf(t, models.ServerEventReaction)
	require.Equal(t, []string{"alice"}, ev.Reactions["🔥"])

	require.NoError(t, r.React("alice", msg.ID, "🔥"))
	ev = b.lastOf(t, models.ServerEventReaction)
	require.Empty(t, ev.Reactions)

	require.ErrorIs(t, r.React("bob", msg.ID, ""), models.ErrValidation)
	require.ErrorIs(t, r.React("bob", "missing", "🔥"), models.ErrNotFound)
}

func TestTypingDebounceAndStop(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	alice := newStubSub("c-a", "alice", "Alice")
	bob := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(alice)
	require.NoError(t, err)
	_, err = r.Join(bob)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r.Typing(alice.identity, true)
	}

	starts := bob.eventsOf(models.ServerEventTypingStart)
	require.Len(t, starts, 1)
	require.Equal(t, "alice", starts[0].Identity.ID)

	// Typists never see their own indicator.
	require.Empty(t, alice.eventsOf(models.ServerEventTypingStart))

	r.Typing(alice.identity, false)
	stops := bob.eventsOf(models.ServerEventTypingStop)
	require.Len(t, stops, 1)

	// A stop without a prior start stays silent.
	r.Typing(alice.identity, false)
	require.Len(t, bob.eventsOf(models.ServerEventTypingStop), 1)
}

func TestTypingEventsAreDroppable(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	alice := newStubSub("c-a", "alice", "Alice")
	bob := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(alice)
	require.NoError(t, err)
	_, err = r.Join(bob)
	require.NoError(t, err)

	r.Typing(alice.identity, true)

	bob.mu.Lock()
	defer bob.mu.Unlock()
	var found bool
	for _, d := range bob.events {
		if d.ev.Type == models.ServerEventTypingStart {
			found = true
			require.True(t, d.droppable)
		}
	}
	require.True(t, found)
}

func TestTypingAutoExpires(t *testing.T) {
	cfg := testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic})
	cfg.TypingTTL = 100 * time.Millisecond
	r := newTestRoom(t, cfg)

	alice := newStubSub("c-a", "alice", "Alice")
	bob := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(alice)
	require.NoError(t, err)
	_, err = r.Join(bob)
	require.NoError(t, err)

	r.Typing(alice.identity, true)
	require.Len(t, bob.eventsOf(models.ServerEventTypingStart), 1)

	// The sweep announces the stop on the silent client's behalf.
	require.Eventually(t, func() bool {
		return len(bob.eventsOf(models.ServerEventTypingStop)) == 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestLeaveWhileTypingAnnouncesStop(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))

	alice := newStubSub("c-a", "alice", "Alice")
	bob := newStubSub("c-b", "bob", "Bob")
	_, err := r.Join(alice)
	require.NoError(t, err)
	_, err = r.Join(bob)
	require.NoError(t, err)

	r.Typing(alice.identity, true)
	r.Leave("c-a")

	require.Len(t, bob.eventsOf(models.ServerEventTypingStop), 1)
	require.Len(t, bob.eventsOf(models.ServerEventUserLeft), 1)
}

func TestResyncWindow(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}))
	author := models.Identity{ID: "alice"}
	for i := 0; i < 14; i++ {
		_, err := r.Send(author, SendInput{Content: "m"})
		require.NoError(t, err)
	}

	res, err := r.Resync(newStubSub("c-b", "bob", "Bob"), 10)
	require.NoError(t, err)
	require.False(t, res.Truncated)
	require.Len(t, res.Messages, 4)
	require.Equal(t, int64(11), res.Messages[0].Seq)
	require.Equal(t, int64(14), res.Messages[3].Seq)
	require.NotEmpty(t, res.Members)
}

func TestResyncTruncated(t *testing.T) {
	cfg := testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic})
	cfg.BacklogLimit = 5
	r := newTestRoom(t, cfg)

	author := models.Identity{ID: "alice"}
	for i := 0; i < 12; i++ {
		_, err := r.Send(author, SendInput{Content: "m"})
		require.NoError(t, err)
	}

	res, err := r.Resync(newStubSub("c-b", "bob", "Bob"), 2)
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Len(t, res.Messages, 5)
	require.Equal(t, int64(8), res.Messages[0].Seq)
}

func TestResyncRespectsAdmission(t *testing.T) {
	r := newTestRoom(t, testConfig(models.Room{
		ID:        "team",
		Kind:      models.RoomKindTeam,
		MemberIDs: []string{"alice"},
	}))

	_, err := r.Resync(newStubSub("c-s", "stranger", "Stranger"), 0)
	require.ErrorIs(t, err, models.ErrForbidden)
}

func TestSeededRoomContinuesSequence(t *testing.T) {
	seed := []models.Message{
		{ID: "m-1", Seq: 1, Content: "old"},
		{ID: "m-2", Seq: 2, Content: "older"},
	}
	cfg := testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic, LastSeq: 2})
	r := New(cfg, seed)
	t.Cleanup(r.Close)

	msg, err := r.Send(models.Identity{ID: "alice"}, SendInput{Content: "new"})
	require.NoError(t, err)
	require.Equal(t, int64(3), msg.Seq)

	res, err := r.Resync(newStubSub("c-b", "bob", "Bob"), 0)
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)
}

func TestNotifierToldAboutOfflineMembers(t *testing.T) {
	notifier := &recordingNotifier{}
	cfg := testConfig(models.Room{
		ID:        "arena",
		Kind:      models.RoomKindPublic,
		MemberIDs: []string{"alice", "bob", "carol"},
	})
	cfg.Notifier = notifier
	r := newTestRoom(t, cfg)

	alice := newStubSub("c-a", "alice", "Alice")
	_, err := r.Join(alice)
	require.NoError(t, err)

	_, err = r.Send(alice.identity, SendInput{Content: "anyone here?"})
	require.NoError(t, err)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.offline, 1)
	require.ElementsMatch(t, []string{"bob", "carol"}, notifier.offline[0])
}

func TestCloseDetachesSubscribers(t *testing.T) {
	r := New(testConfig(models.Room{ID: "arena", Kind: models.RoomKindPublic}), nil)

	sub := newStubSub("c-a", "alice", "Alice")
	_, err := r.Join(sub)
	require.NoError(t, err)

	r.Close()

	sub.mu.Lock()
	require.Equal(t, []string{"arena"}, sub.detached)
	sub.mu.Unlock()

	_, err = r.Join(newStubSub("c-b", "bob", "Bob"))
	require.Error(t, err)
}
