package pipeline

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"
)

// BatchItem is the outcome of one request in a batch.
type BatchItem struct {
	Request Request
	Result  *Result
	Err     error
}

// BatchResult lists per-request outcomes in input order.
type BatchResult struct {
	Items []BatchItem
}

// Failed returns the number of failed requests.
func (b BatchResult) Failed() int {
	n := 0
	for _, it := range b.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Err joins every per-request error, or returns nil when all succeeded.
func (b BatchResult) Err() error {
	var errs []error
	for _, it := range b.Items {
		if it.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.Request, it.Err))
		}
	}
	return errors.Join(errs...)
}

// RunBatch runs requests one after another. A failed request is logged and
// recorded; the rest still run. Cancelling ctx stops the batch and marks
// the remaining requests with the context error.
func (r *Runner) RunBatch(ctx context.Context, reqs []Request) BatchResult {
	log := klog.FromContext(ctx)
	out := BatchResult{Items: make([]BatchItem, 0, len(reqs))}
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			for _, rest := range reqs[i:] {
				out.Items = append(out.Items, BatchItem{Request: rest, Err: err})
			}
			break
		}

		res, err := r.Run(ctx, req)
		if err != nil {
			log.Error(err, "dataset run failed; continuing with the rest of the batch", "request", req.String(), "index", i)
			r.printf("Failed %s: %v", req, err)
		}
		out.Items = append(out.Items, BatchItem{Request: req, Result: res, Err: err})
	}
	return out
}
