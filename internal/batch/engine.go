// Package batch runs chunked retrieval where a failed chunk does not abort
// the rest of the run.
package batch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DefaultSize is the chunk size used when none is configured
const DefaultSize = 10

// Failure records an id that could not be fetched
type Failure struct {
	ID  string `json:"id"`
	Err string `json:"error"`
}

// Result collects what a run produced
type Result[T any] struct {
	Succeeded []T
	Failed    []Failure
}

// FetchFunc fetches one chunk. A returned error fails the whole chunk;
// per-item failures go in Result.Failed instead.
type FetchFunc[ID comparable, T any] func(ctx context.Context, chunk []ID) (Result[T], error)

// Engine executes chunked fetches
type Engine struct {
	logger *logrus.Logger
}

// NewEngine creates a batch engine
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{logger: logger}
}

// FetchInBatches splits ids into consecutive chunks of at most size and runs
// fetch on each in order. Chunks never overlap or run concurrently. A chunk
// error is logged and its ids are reported as failed; later chunks still run.
func FetchInBatches[ID comparable, T any](ctx context.Context, e *Engine, ids []ID, size int, fetch FetchFunc[ID, T]) Result[T] {
	if size <= 0 {
		size = DefaultSize
	}

	var res Result[T]
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunk := ids[start:end]

		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, failAll(chunk, err)...)
			continue
		}

		part, err := fetch(ctx, chunk)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"chunk_start": start,
				"chunk_size":  len(chunk),
			}).Warn("Batch chunk failed")
			res.Failed = append(res.Failed, failAll(chunk, err)...)
			continue
		}

		res.Succeeded = append(res.Succeeded, part.Succeeded...)
		res.Failed = append(res.Failed, part.Failed...)
	}

	e.logger.WithFields(logrus.Fields{
		"requested": len(ids),
		"succeeded": len(res.Succeeded),
		"failed":    len(res.Failed),
	}).Debug("Batch fetch finished")
	return res
}

func failAll[ID comparable](chunk []ID, err error) []Failure {
	out := make([]Failure, 0, len(chunk))
	for _, id := range chunk {
		out = append(out, Failure{ID: fmt.Sprint(id), Err: err.Error()})
	}
	return out
}
