package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sideshow/apns2"
	apnspayload "github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/calebrow/notifyd/internal/models"
)

// APNsConfig carries token-based authentication settings for Apple's push
// service.
type APNsConfig struct {
	Enabled     bool
	KeyID       string
	TeamID      string
	KeyPath     string
	BundleID    string
	Environment string // "development" or "production"
}

// APNsTransport sends payloads to Apple devices.
type APNsTransport struct {
	client   *apns2.Client
	bundleID string
}

// NewAPNsTransport constructs the Apple transport from token credentials.
// Returns (nil, nil) when the transport is disabled.
func NewAPNsTransport(cfg APNsConfig) (*APNsTransport, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.KeyID == "" || cfg.TeamID == "" || cfg.KeyPath == "" || cfg.BundleID == "" {
		return nil, errors.New("apns: key id, team id, key path, and bundle id are all required")
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("apns: load auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if strings.EqualFold(cfg.Environment, "production") {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsTransport{client: client, bundleID: cfg.BundleID}, nil
}

func (t *APNsTransport) Name() string { return "apns" }

// Send pushes the payload to the subscription's device token. Unregistered
// and bad-token responses map to ErrEndpointGone.
func (t *APNsTransport) Send(ctx context.Context, sub *models.PushSubscription, payload *Payload) error {
	body := apnspayload.NewPayload().
		AlertTitle(payload.Title).
		AlertBody(payload.Body).
		Sound("default").
		MutableContent().
		Custom("notification_id", payload.Data.NotificationID).
		Custom("category", payload.Data.Category).
		Custom("type", payload.Data.Type).
		Custom("url", payload.Data.URL)
	if payload.Data.Metadata != nil {
		body = body.Custom("metadata", payload.Data.Metadata)
	}

	topic := sub.APNsBundleID
	if topic == "" {
		topic = t.bundleID
	}

	res, err := t.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: sub.APNsToken,
		Topic:       topic,
		CollapseID:  payload.Tag,
		Payload:     body,
	})
	if err != nil {
		return fmt.Errorf("apns: send: %w", err)
	}

	switch {
	case res.Sent():
		return nil
	case res.StatusCode == http.StatusGone,
		res.Reason == apns2.ReasonUnregistered,
		res.Reason == apns2.ReasonBadDeviceToken:
		return ErrEndpointGone
	default:
		return fmt.Errorf("apns: rejected with status %d reason %s", res.StatusCode, res.Reason)
	}
}
