package receiver

import (
	"context"
	"errors"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/server/internal/dispatch"
)

// Submitter queues a record for evaluation. *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, rec *types.Record, done dispatch.Done) error
}

// Validate checks the fields every record needs to be routed.
func Validate(rec *types.Record) error {
	if rec.EntityID == "" {
		return errors.New("entity_id is required")
	}
	switch rec.Kind {
	case types.KindResult, types.KindError:
	case "":
		return errors.New("kind is required")
	default:
		return errors.New("kind must be result or error")
	}
	return nil
}

// submitAndWait submits rec and blocks until it has been evaluated.
func submitAndWait(ctx context.Context, sub Submitter, rec *types.Record) error {
	res := make(chan error, 1)
	if err := sub.Submit(ctx, rec, func(err error) { res <- err }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
