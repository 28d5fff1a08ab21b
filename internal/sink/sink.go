// Package sink delivers normalized records to downstream destinations.
package sink

import (
	"context"

	"github.com/sells-group/lead-relay/internal/model"
)

// Sink receives accepted records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Name() string
	Send(ctx context.Context, rec *model.Record) error
}
