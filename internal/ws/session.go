package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"arenachat/internal/metrics"
	"arenachat/internal/models"
	"arenachat/internal/room"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var errSlowConsumer = errors.New("outbound queue overflow")

type wsConn interface {
	Close() error
	ReadJSON(v any) error
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type registry interface {
	Get(roomID string) (*room.Room, bool)
}

type SessionConfig struct {
	EventsPerSec    float64
	EventBurst      int
	OutboundQueue   int
	MaxMessageBytes int
	Logger          *slog.Logger
}

// Session wraps one authenticated transport connection. It owns the
// inbound decode loop and the outbound delivery queue, and holds the set
// of rooms the connection is subscribed to. Everything dies with the
// connection: a reconnect builds a fresh session and recovers state
// through resync, never by resurrecting the old one.
type Session struct {
	id       string
	identity models.Identity
	reg      registry
	ws       wsConn
	cfg      SessionConfig
	logger   *slog.Logger
	limiter  *rate.Limiter

	out chan models.ServerEvent

	mu         sync.Mutex
	subscribed map[string]*room.Room

	kickOnce sync.Once
	kicked   chan struct{}
}

func NewSession(reg registry, ws wsConn, identity models.Identity, cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:         id,
		identity:   identity,
		reg:        reg,
		ws:         ws,
		cfg:        cfg,
		logger:     cfg.Logger.With("connection_id", id, "identity_id", identity.ID),
		limiter:    rate.NewLimiter(rate.Limit(cfg.EventsPerSec), cfg.EventBurst),
		out:        make(chan models.ServerEvent, cfg.OutboundQueue),
		subscribed: make(map[string]*room.Room),
		kicked:     make(chan struct{}),
	}
}

func (s *Session) ConnectionID() string {
	return s.id
}

func (s *Session) Identity() models.Identity {
	return s.identity
}

// Deliver queues an event for this connection without ever blocking the
// sending room. A full queue drops droppable events (typing); for
// anything else it means the consumer cannot keep up, and the deliberate
// policy is to disconnect it and let resync recover, rather than buffer
// without bound or stall the room.
func (s *Session) Deliver(ev models.ServerEvent, droppable bool) {
	select {
	case s.out <- ev:
	default:
		if droppable {
			metrics.EventsDropped.Inc()
			return
		}
		metrics.SlowConsumerDisconnects.Inc()
		s.kick()
	}
}

// Detach drops the subscription without calling back into the room.
// Invoked by a room that is being deleted.
func (s *Session) Detach(roomID string) {
	s.mu.Lock()
	delete(s.subscribed, roomID)
	s.mu.Unlock()
}

func (s *Session) kick() {
	s.kickOnce.Do(func() { close(s.kicked) })
}

// Run drives the connection until the client goes away, the context is
// canceled or the backpressure policy kicks the session. Cleanup is
// keyed by connection id, so a rejoin on a fresh connection can never
// race with this session's teardown.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Go(func() {
		errCh <- s.readLoop(ctx)
		cancel()
	})
	wg.Go(func() {
		errCh <- s.writeLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
	case <-s.kicked:
		err = errSlowConsumer
	}

	// Stop both loops before releasing subscriptions: a join still in
	// flight on the read loop may register with a room after any earlier
	// snapshot of the subscription set, and cleanup must observe it.
	_ = s.ws.Close()
	cancel()
	wg.Wait()
	s.leaveAll()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context) error {
	s.ws.SetReadLimit(int64(s.cfg.MaxMessageBytes) + 1024)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev models.ClientEvent
		if err := s.ws.ReadJSON(&ev); err != nil {
			// A decode failure is the sender's problem, not a reason
			// to drop the connection.
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.sendError(models.ErrorCodeValidation, "malformed payload", "", "")
				continue
			}
			return err
		}

		s.dispatch(ev)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.out:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-s.kicked:
			return errSlowConsumer
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch routes one inbound event. Failures are reported to this
// connection only; nothing reaches the room unless the operation fully
// succeeds.
func (s *Session) dispatch(ev models.ClientEvent) {
	if !s.limiter.Allow() {
		metrics.RateLimitedEvents.Inc()
		s.sendError(models.ErrorCodeRateLimited, "too many events, event dropped", ev.Type, ev.ClientMessageID)
		return
	}

	switch ev.Type {
	case models.ClientEventJoinRoom:
		s.handleJoin(ev)
	case models.ClientEventLeaveRoom:
		s.handleLeave(ev)
	case models.ClientEventSendMessage:
		s.handleSend(ev)
	case models.ClientEventEditMessage:
		s.handleEdit(ev)
	case models.ClientEventDeleteMessage:
		s.handleDelete(ev)
	case models.ClientEventPinMessage:
		s.handlePin(ev)
	case models.ClientEventAddReaction:
		s.handleReaction(ev)
	case models.ClientEventTyping:
		s.handleTyping(ev)
	case models.ClientEventResync:
		s.handleResync(ev)
	default:
		s.sendError(models.ErrorCodeValidation, "unknown event type", ev.Type, ev.ClientMessageID)
	}
}

func (s *Session) handleJoin(ev models.ClientEvent) {
	r, ok := s.reg.Get(ev.RoomID)
	if !ok {
		s.sendError(models.ErrorCodeNotFound, "room not found", ev.Type, "")
		return
	}

	ack, err := r.Join(s)
	if err != nil {
		s.logger.Warn("join rejected", "room_id", ev.RoomID, "error", err)
		s.sendError(codeFor(err), err.Error(), ev.Type, "")
		return
	}

	s.mu.Lock()
	s.subscribed[ev.RoomID] = r
	s.mu.Unlock()

	s.Deliver(models.ServerEvent{
		Type:    models.ServerEventMembershipAck,
		RoomID:  ack.RoomID,
		Members: ack.Members,
		Pinned:  ack.Pinned,
	}, false)
}

func (s *Session) handleLeave(ev models.ClientEvent) {
	s.mu.Lock()
	r, ok := s.subscribed[ev.RoomID]
	delete(s.subscribed, ev.RoomID)
	s.mu.Unlock()
	if ok {
		r.Leave(s.id)
	}
}

func (s *Session) handleSend(ev models.ClientEvent) {
	r, ok := s.roomFor(ev.RoomID)
	if !ok {
		s.sendError(models.ErrorCodeForbidden, "not joined to room", ev.Type, ev.ClientMessageID)
		return
	}

	_, err := r.Send(s.identity, room.SendInput{
		Content:         ev.Content,
		Kind:            ev.Kind,
		ClientMessageID: ev.ClientMessageID,
		Attachments:     ev.Attachments,
	})
	if err != nil {
		// Explicit rejection so the client can drop its optimistic copy.
		s.sendError(codeFor(err), err.Error(), ev.Type, ev.ClientMessageID)
		return
	}
	metrics.MessagesTotal.Inc()
}

func (s *Session) handleEdit(ev models.ClientEvent) {
	r, ok := s.roomFor(ev.RoomID)
	if !ok {
		s.sendError(models.ErrorCodeForbidden, "not joined to room", ev.Type, "")
		return
	}
	if _, err := r.Edit(s.identity.ID, ev.MessageID, ev.Content); err != nil {
		s.sendError(codeFor(err), err.Error(), ev.Type, "")
	}
}

func (s *Session) handleDelete(ev models.ClientEvent) {
	r, ok := s.roomFor(ev.RoomID)
	if !ok {
		s.sendError(models.ErrorCodeForbidden, "not joined to room", ev.Type, "")
		return
	}
	if err := r.Delete(s.identity.ID, ev.MessageID); err != nil {
		s.sendError(codeFor(err), err.Error(), ev.Type, "")
	}
}

func (s *Session) handlePin(ev models.ClientEvent) {
	r, ok := s.roomFor(ev.RoomID)
	if !ok {
		s.sendError(models.ErrorCodeForbidden, "not joined to room", ev.Type, "")
		return
	}
	if err := r.Pin(s.identity.ID, ev.MessageID); err != nil {
		s.sendError(codeFor(err), err.Error(), ev.Type, "")
	}
}

func (s *Session) handleReaction(ev models.ClientEvent) {
	r, ok := s.roomFor(ev.RoomID)
	if !ok {
		s.sendError(models.ErrorCodeForbidden, "not joined to room", ev.Type, "")
		return
	}
	if err := r.React(s.identity.ID, ev.MessageID, ev.Emoji); err != nil {
		s.sendError(codeFor(err), err.Error(), ev.Type, "")
	}
}

func (s *Session) handleTyping(ev models.ClientEvent) {
	// Best effort: an unknown room is silently ignored, typing carries
	// no delivery guarantees.
	if r, ok := s.roomFor(ev.RoomID); ok {
		r.Typing(s.identity, ev.IsTyping)
	}
}

// handleResync rejoins every room the reconnected client presents a
// cursor for and answers with the snapshot and bounded backlog per room.
// Rooms that are gone or no longer joinable are simply omitted.
func (s *Session) handleResync(ev models.ClientEvent) {
	result := make([]models.RoomResync, 0, len(ev.Cursors))
	for _, cursor := range ev.Cursors {
		r, ok := s.reg.Get(cursor.RoomID)
		if !ok {
			continue
		}
		res, err := r.Resync(s, cursor.LastSeenSeq)
		if err != nil {
			s.logger.Warn("resync skipped room", "room_id", cursor.RoomID, "error", err)
			continue
		}
		s.mu.Lock()
		s.subscribed[cursor.RoomID] = r
		s.mu.Unlock()
		result = append(result, res)
	}

	s.Deliver(models.ServerEvent{
		Type:  models.ServerEventResyncResult,
		Rooms: result,
	}, false)
}

func (s *Session) roomFor(roomID string) (*room.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.subscribed[roomID]
	return r, ok
}

// leaveAll releases every subscription, keyed by this connection's id.
func (s *Session) leaveAll() {
	s.mu.Lock()
	subscribed := s.subscribed
	s.subscribed = make(map[string]*room.Room)
	s.mu.Unlock()

	for _, r := range subscribed {
		r.Leave(s.id)
	}
}

func (s *Session) sendError(code models.ErrorCode, message string, cause models.ClientEventType, clientMessageID string) {
	s.Deliver(models.ServerEvent{
		Type: models.ServerEventError,
		Error: &models.EventError{
			Code:            code,
			Message:         message,
			Cause:           cause,
			ClientMessageID: clientMessageID,
		},
	}, false)
}

func codeFor(err error) models.ErrorCode {
	switch {
	case errors.Is(err, models.ErrForbidden):
		return models.ErrorCodeForbidden
	case errors.Is(err, models.ErrBanned):
		return models.ErrorCodeBanned
	case errors.Is(err, models.ErrRoomFull):
		return models.ErrorCodeRoomFull
	case errors.Is(err, models.ErrConflict):
		return models.ErrorCodeConflict
	case errors.Is(err, models.ErrValidation):
		return models.ErrorCodeValidation
	case errors.Is(err, models.ErrNotFound), errors.Is(err, room.ErrClosed):
		return models.ErrorCodeNotFound
	default:
		return models.ErrorCodeValidation
	}
}
