package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/repository"
)

// Sender delivers Web Push notifications to a user's stored subscriptions.
// A nil *Sender is a valid no-op: push stays disabled when VAPID keys are
// not configured.
type Sender struct {
	repo  *repository.PushRepository
	vapid *webpush.Options
}

func NewSender(repo *repository.PushRepository, keys *VAPIDKeys) *Sender {
	if keys == nil || keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil
	}
	return &Sender{
		repo: repo,
		vapid: &webpush.Options{
			Subscriber:      "chatsync",
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		},
	}
}

// PublicKey returns the VAPID public key clients need to subscribe.
func (s *Sender) PublicKey() string {
	if s == nil {
		return ""
	}
	return s.vapid.VAPIDPublicKey
}

// Notify sends a notification to every subscription of the user.
// Expired subscriptions (410/404 from the push service) are deleted.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s == nil {
		return
	}
	defer logger.DeferLogDuration("push.Notify", time.Now())()

	subs, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		logger.Errorf("push get subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	if err != nil {
		logger.Errorf("push marshal payload user=%s: %v", userID, err)
		return
	}

	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.vapid)
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := s.repo.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				logger.Errorf("push delete expired subscription user=%s: %v", userID, err)
			}
		}
	}
}
