package indexer

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/specgraph/pkg/natsutil"
)

// Event subjects, relative to the publisher's prefix.
const (
	SubjectProgress  = "index.progress"
	SubjectCompleted = "index.completed"
	SubjectCleared   = "index.cleared"
)

// Events publishes indexing progress and results over NATS.
type Events struct {
	pub *natsutil.Publisher
}

// NewEvents creates an Events publisher on nc with subjects under prefix.
func NewEvents(nc *nats.Conn, prefix string, logger *slog.Logger) *Events {
	return &Events{pub: natsutil.NewPublisher(nc, prefix, logger)}
}

// Progress returns a ProgressFunc that publishes every update. Publish
// failures are logged and never interrupt indexing.
func (e *Events) Progress(ctx context.Context) ProgressFunc {
	return func(p Progress) {
		e.pub.Emit(ctx, SubjectProgress, p)
	}
}

// Completed publishes the result of a pass.
func (e *Events) Completed(ctx context.Context, res Result) {
	e.pub.Emit(ctx, SubjectCompleted, res)
}

// Cleared publishes a clear-all notification.
func (e *Events) Cleared(ctx context.Context) {
	e.pub.Emit(ctx, SubjectCleared, struct {
		Cleared bool `json:"cleared"`
	}{true})
}
