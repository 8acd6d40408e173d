package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/calebrow/notifyd/internal/models"
)

const defaultWebPushTTL = 60 * 60 * 24 // seconds

// WebPushConfig carries the VAPID credentials for the Web Push transport.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
}

// Configured reports whether the key pair is present.
func (c WebPushConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// WebPushTransport sends payloads over the Web Push protocol with VAPID auth.
type WebPushTransport struct {
	cfg    WebPushConfig
	client *http.Client
}

// NewWebPushTransport constructs the transport. Returns nil when the VAPID
// key pair is absent so callers can treat the transport as unavailable.
func NewWebPushTransport(cfg WebPushConfig) *WebPushTransport {
	if !cfg.Configured() {
		return nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultWebPushTTL
	}
	return &WebPushTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *WebPushTransport) Name() string { return "webpush" }

// Send encodes the payload as JSON and posts it to the subscription endpoint.
// A 404/410 response maps to ErrEndpointGone.
func (t *WebPushTransport) Send(ctx context.Context, sub *models.PushSubscription, payload *Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webpush: encode payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.cfg.Subject,
		Topic:           payload.Tag,
		TTL:             t.cfg.TTL,
		VAPIDPublicKey:  t.cfg.PublicKey,
		VAPIDPrivateKey: t.cfg.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("webpush: send: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return ErrEndpointGone
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("webpush: endpoint returned status %d", resp.StatusCode)
	}

	return nil
}
