package hub

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"arenachat/internal/metrics"
	"arenachat/internal/models"
	"arenachat/internal/room"
)

// Store is the persistence surface the registry needs on top of what
// individual rooms write through.
type Store interface {
	room.Store
	DeleteRoom(roomID string) error
	ListRooms() ([]models.Room, error)
	LastMessages(roomID string, count int) ([]models.Message, error)
}

type Config struct {
	BacklogLimit      int
	MaxPinned         int
	MaxMessageBytes   int
	TypingTTL         time.Duration
	DefaultMaxMembers int
}

// Hub is the room registry: the authoritative mapping from room id to the
// live room actor. Rooms are provisioned and deleted here; everything
// that happens inside a room goes through the room's own serialization
// point, so the hub lock only guards the map.
type Hub struct {
	cfg      Config
	store    Store
	notifier room.Notifier
	logger   *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*room.Room
}

func New(cfg Config, store Store, notifier room.Notifier, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger,
		rooms:    make(map[string]*room.Room),
	}
}

// Rehydrate loads every stored room and warms its backlog with the most
// recent messages, so resync keeps working across restarts.
func (h *Hub) Rehydrate() error {
	stored, err := h.store.ListRooms()
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, meta := range stored {
		seed, err := h.store.LastMessages(meta.ID, h.cfg.BacklogLimit)
		if err != nil {
			return fmt.Errorf("failed to load backlog for room %s: %w", meta.ID, err)
		}
		h.rooms[meta.ID] = h.startRoom(meta, seed)
	}
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	h.logger.Info("rehydrated rooms", "count", len(h.rooms))
	return nil
}

// Provision creates a new room. This is the surface the platform's
// provisioning call lands on; the core never creates rooms on its own.
func (h *Hub) Provision(meta models.Room) (*room.Room, error) {
	if meta.ID == "" {
		return nil, fmt.Errorf("%w: room id is required", models.ErrValidation)
	}
	switch meta.Kind {
	case models.RoomKindPublic, models.RoomKindPrivate, models.RoomKindTeam,
		models.RoomKindDirect, models.RoomKindChannel, models.RoomKindGroup:
	default:
		return nil, fmt.Errorf("%w: unknown room kind %q", models.ErrValidation, meta.Kind)
	}
	if meta.MaxMembers == 0 {
		meta.MaxMembers = h.cfg.DefaultMaxMembers
	}
	if meta.CreatedAt == 0 {
		meta.CreatedAt = time.Now().Unix()
	}
	// Closed rooms must list their owner as a member.
	if !meta.Kind.Open() && meta.OwnerID != "" && !meta.IsMember(meta.OwnerID) {
		meta.MemberIDs = append(meta.MemberIDs, meta.OwnerID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rooms[meta.ID]; exists {
		return nil, fmt.Errorf("%w: room %s already exists", models.ErrConflict, meta.ID)
	}

	if err := h.store.UpsertRoom(meta); err != nil {
		return nil, fmt.Errorf("failed to persist room: %w", err)
	}

	r := h.startRoom(meta, nil)
	h.rooms[meta.ID] = r
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	h.logger.Info("room provisioned", "room_id", meta.ID, "kind", meta.Kind)
	return r, nil
}

// Delete destroys a room: every attached session is detached, the actor
// stops, and the stored history is removed.
func (h *Hub) Delete(roomID string) error {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if ok {
		delete(h.rooms, roomID)
	}
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()

	if !ok {
		return models.ErrNotFound
	}

	r.Close()
	if err := h.store.DeleteRoom(roomID); err != nil {
		return fmt.Errorf("failed to delete room from store: %w", err)
	}
	h.logger.Info("room deleted", "room_id", roomID)
	return nil
}

func (h *Hub) Get(roomID string) (*room.Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// Rooms returns metadata for all live rooms, sorted by id.
func (h *Hub) Rooms() []models.Room {
	h.mu.RLock()
	live := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		live = append(live, r)
	}
	h.mu.RUnlock()

	metas := make([]models.Room, 0, len(live))
	for _, r := range live {
		metas = append(metas, r.Meta())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas
}

// Close stops every room actor. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room.Room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}

func (h *Hub) startRoom(meta models.Room, seed []models.Message) *room.Room {
	return room.New(room.Config{
		Room:            meta,
		Store:           h.store,
		Notifier:        h.notifier,
		BacklogLimit:    h.cfg.BacklogLimit,
		MaxPinned:       h.cfg.MaxPinned,
		MaxMessageBytes: h.cfg.MaxMessageBytes,
		TypingTTL:       h.cfg.TypingTTL,
		Logger:          h.logger,
	}, seed)
}
