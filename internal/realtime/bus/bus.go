package bus

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Bus fans session envelopes out across server instances. A participant may
// be attached to any instance; whichever instance produces an envelope
// publishes it, and every instance forwards it to its local registry.
type Bus interface {
	Publish(ctx context.Context, sessionID uuid.UUID, envelope any) error
	StartForwarder(ctx context.Context, onMsg func(sessionID uuid.UUID, envelope json.RawMessage)) error
	Close() error
}
