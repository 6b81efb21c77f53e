package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
	"github.com/madisonstylee/thetidytoad-sub000/internal/store"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// payload is the JSON sent to the push service.
type payload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Kind      string `json:"kind"`
	RelatedID int64  `json:"related_id,omitempty"`
}

// WebPushDispatcher delivers notifications over web push, dropping expired
// subscriptions as it finds them.
type WebPushDispatcher struct {
	publicKey  string
	privateKey string
	subs       *store.PushStore
	logger     *slog.Logger
}

func NewWebPushDispatcher(publicKey, privateKey string, subs *store.PushStore, logger *slog.Logger) *WebPushDispatcher {
	return &WebPushDispatcher{
		publicKey:  publicKey,
		privateKey: privateKey,
		subs:       subs,
		logger:     logger,
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (d *WebPushDispatcher) VAPIDPublicKey() string {
	return d.publicKey
}

func (d *WebPushDispatcher) Notify(ctx context.Context, role auth.Role, userID int64, kind Kind, message string, relatedID int64) {
	subs, err := d.subs.ListByUser(string(role), userID)
	if err != nil {
		d.logger.Error("list push subscriptions", "error", err)
		return
	}

	for _, sub := range subs {
		err := d.send(&sub, payload{
			Title:     "The Tidy Toad",
			Body:      message,
			Kind:      string(kind),
			RelatedID: relatedID,
		})
		if errors.Is(err, ErrExpired) {
			if err := d.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				d.logger.Error("drop expired subscription", "error", err)
			}
			continue
		}
		if err != nil {
			d.logger.Error("send push", "endpoint", sub.Endpoint, "error", err)
		}
	}
}

func (d *WebPushDispatcher) send(sub *model.PushSubscription, p payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		Subscriber:      "mailto:noreply@thetidytoad.app",
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}
