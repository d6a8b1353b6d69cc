package publish

import (
	"context"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/server/internal/store"
)

// StoreSink records alerts in the recent store and, when set, the history.
type StoreSink struct {
	recent  *store.Recent
	history *store.History
}

// NewStoreSink builds a sink. history may be nil.
func NewStoreSink(recent *store.Recent, history *store.History) *StoreSink {
	return &StoreSink{recent: recent, history: history}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Send(ctx context.Context, alerts []types.Alert) error {
	s.recent.Put(alerts...)
	if s.history == nil {
		return nil
	}
	return s.history.Insert(ctx, alerts)
}
