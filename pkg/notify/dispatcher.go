package notify

import (
	"context"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// Dispatcher delivers notification requests to their channels. Delivery is
// at-least-once: the engine emits exactly one request per newly triggered
// alert, and callers may retry the same request safely.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.NotificationRequest) error
}
