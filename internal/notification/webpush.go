package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"laundry-sync-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the subset of the store the web push sink needs.
type SubscriptionStore interface {
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WebPushSink delivers notifications to every browser subscription of the
// recipient. Expired subscriptions are removed.
type WebPushSink struct {
	subs    SubscriptionStore
	options *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWebPushSink creates a sink using the real webpush sender.
func NewWebPushSink(subs SubscriptionStore, options *webpush.Options, log *zap.Logger) *WebPushSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebPushSink{subs: subs, options: options, sender: &WebPushSender{}, log: log}
}

// Name implements AlertSink.
func (s *WebPushSink) Name() string { return "webpush" }

type pushPayload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Kind      string `json:"kind"`
	MachineID int64  `json:"machine_id"`
	ID        string `json:"id"`
}

// Deliver implements AlertSink.
func (s *WebPushSink) Deliver(ctx context.Context, n model.Notification) error {
	subscriptions, err := s.subs.SubscriptionsForUser(ctx, n.Recipient)
	if err != nil {
		return fmt.Errorf("fetch subscriptions for %s: %w", n.Recipient, err)
	}
	if len(subscriptions) == 0 {
		return nil
	}

	payload, err := json.Marshal(pushPayload{
		Title:     n.Title,
		Body:      n.Message,
		Kind:      string(n.Kind),
		MachineID: n.MachineID,
		ID:        n.ID,
	})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	var failed int
	for _, sub := range subscriptions {
		if err := s.send(ctx, sub, payload); err != nil {
			s.log.Warn("push failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
			failed++
		}
	}
	if failed == len(subscriptions) {
		return fmt.Errorf("all %d push deliveries failed", failed)
	}
	return nil
}

// send sends a single web push notification.
func (s *WebPushSink) send(ctx context.Context, sub model.PushSubscription, payload []byte) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := s.sender.Send(payload, wpSub, s.options)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		s.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := s.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			s.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}
