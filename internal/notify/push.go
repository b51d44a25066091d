package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"arenachat/internal/config"
	"arenachat/internal/models"
	"arenachat/internal/storage"

	"github.com/SherClockHolmes/webpush-go"
)

const previewRunes = 140

// SubscriptionStore is the slice of persistence the notifier needs.
type SubscriptionStore interface {
	ListPushSubscriptions() (map[string][]storage.DBPushSubscription, error)
	DeletePushSubscription(id string) error
}

// Payload is the JSON body handed to the service worker on the other end.
type Payload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName,omitempty"`
	AuthorID string `json:"authorId"`
	Preview  string `json:"preview"`
}

type job struct {
	payload   Payload
	memberIDs []string
}

// PushNotifier delivers web push notifications to room members who have
// no live connection. Rooms hand it work from their actor goroutine, so
// enqueueing never blocks; delivery happens on the notifier's own
// goroutine against the push service.
type PushNotifier struct {
	cfg    *config.Config
	store  SubscriptionStore
	logger *slog.Logger
	jobs   chan job

	// Seam for tests; defaults to the webpush client.
	send func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func NewPushNotifier(cfg *config.Config, store SubscriptionStore, logger *slog.Logger) *PushNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushNotifier{
		cfg:    cfg,
		store:  store,
		logger: logger,
		jobs:   make(chan job, 64),
		send:   webpush.SendNotificationWithContext,
	}
}

// Enabled reports whether VAPID keys are configured. A disabled notifier
// should not be wired into rooms at all.
func (n *PushNotifier) Enabled() bool {
	return n.cfg.VAPIDPublicKey != "" && n.cfg.VAPIDPrivateKey != ""
}

// MessageSent queues a notification for every offline member. When the
// queue is full the notification is dropped; push is best effort and the
// room pipeline always wins.
func (n *PushNotifier) MessageSent(room models.Room, msg models.Message, offlineMemberIDs []string) {
	preview := msg.Content
	if preview == "" && len(msg.Attachments) > 0 {
		preview = "sent an attachment"
	}
	if utf8.RuneCountInString(preview) > previewRunes {
		runes := []rune(preview)
		preview = string(runes[:previewRunes])
	}

	j := job{
		payload: Payload{
			RoomID:   room.ID,
			RoomName: room.Name,
			AuthorID: msg.AuthorID,
			Preview:  preview,
		},
		memberIDs: offlineMemberIDs,
	}

	select {
	case n.jobs <- j:
	default:
		n.logger.Warn("push queue full, notification dropped", "room_id", room.ID)
	}
}

// Run delivers queued notifications until the context is canceled.
func (n *PushNotifier) Run(ctx context.Context) error {
	for {
		select {
		case j := <-n.jobs:
			n.deliver(ctx, j)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *PushNotifier) deliver(ctx context.Context, j job) {
	body, err := json.Marshal(j.payload)
	if err != nil {
		n.logger.Error("failed to marshal push payload", "error", err)
		return
	}

	subs, err := n.store.ListPushSubscriptions()
	if err != nil {
		n.logger.Error("failed to list push subscriptions", "error", err)
		return
	}

	options := &webpush.Options{
		Subscriber:      n.cfg.PushContact,
		VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
		TTL:             60,
	}

	for _, memberID := range j.memberIDs {
		for _, dbSub := range subs[memberID] {
			var sub webpush.Subscription
			if err := json.Unmarshal(dbSub.Subscription, &sub); err != nil {
				n.logger.Warn("dropping malformed push subscription", "subscription_id", dbSub.ID)
				n.dropSubscription(dbSub.ID)
				continue
			}

			resp, err := n.send(ctx, body, &sub, options)
			if err != nil {
				n.logger.Warn("push delivery failed", "identity_id", memberID, "error", err)
				continue
			}
			// The push service says the endpoint is gone for good.
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
				n.dropSubscription(dbSub.ID)
			}
			_ = resp.Body.Close()
		}
	}
}

func (n *PushNotifier) dropSubscription(id string) {
	if err := n.store.DeletePushSubscription(id); err != nil {
		n.logger.Error("failed to delete push subscription", "subscription_id", id, "error", err)
	}
}
