package push

import (
	"encoding/json"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/calebrow/notifyd/internal/models"
)

const (
	defaultTitle     = "Notification"
	defaultTargetURL = "/"
)

var stripPolicy = bluemonday.StrictPolicy()

// Payload is the transport-agnostic push message. Transports encode it into
// their own wire format; the Tag is used downstream for de-duplication and
// replacement.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Icon  string      `json:"icon,omitempty"`
	Tag   string      `json:"tag"`
	Data  PayloadData `json:"data"`
}

// PayloadData is the opaque data block carried alongside the display fields.
type PayloadData struct {
	NotificationID string         `json:"notification_id"`
	Category       string         `json:"category"`
	Type           string         `json:"type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	URL            string         `json:"url"`
}

// BuildPayload derives the push payload from a persisted notification.
func BuildPayload(n *models.Notification, defaultIcon string) *Payload {
	title := strings.TrimSpace(n.Category)
	if title == "" {
		title = defaultTitle
	}

	icon := strings.TrimSpace(n.AvatarURL)
	if icon == "" {
		icon = defaultIcon
	}

	return &Payload{
		Title: title,
		Body:  PlainText(n.Title),
		Icon:  icon,
		Tag:   n.ID,
		Data: PayloadData{
			NotificationID: n.ID,
			Category:       n.Category,
			Type:           n.Type,
			Metadata:       decodeMetadata(n.Metadata),
			URL:            defaultTargetURL,
		},
	}
}

// PlainText strips markup from rich notification titles so transports receive
// displayable text.
func PlainText(rich string) string {
	text := stripPolicy.Sanitize(rich)
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

func decodeMetadata(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
