package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FanOut calls get for every id with at most limit calls in flight.
// Successful items keep the order of ids. A failing call only fails its id.
func FanOut[ID comparable, T any](ctx context.Context, ids []ID, limit int, get func(ctx context.Context, id ID) (T, error)) Result[T] {
	if limit <= 0 {
		limit = DefaultSize
	}

	items := make([]T, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			items[i], errs[i] = get(ctx, id)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	var res Result[T]
	for i, id := range ids {
		if errs[i] != nil {
			res.Failed = append(res.Failed, Failure{ID: fmt.Sprint(id), Err: errs[i].Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, items[i])
	}
	return res
}
