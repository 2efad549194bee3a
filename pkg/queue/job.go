package queue

import (
	"context"
	"encoding/json"
)

// Job handles one message type. The returned result is stored with the
// job status so callers can poll for it.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) (interface{}, error)
}
