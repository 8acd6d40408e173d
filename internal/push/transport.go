package push

import (
	"context"
	"errors"

	"github.com/calebrow/notifyd/internal/models"
)

// ErrEndpointGone signals a permanent transport rejection: the endpoint no
// longer exists and the subscription should be deactivated. This is a
// lifecycle event, not a delivery error.
var ErrEndpointGone = errors.New("push endpoint permanently gone")

// Transport delivers a payload to a single subscription over one push protocol.
type Transport interface {
	Name() string
	Send(ctx context.Context, sub *models.PushSubscription, payload *Payload) error
}
