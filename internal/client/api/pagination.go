package api

import (
	"context"
	"fmt"
)

// DefaultBatchSize is the number of keys sent in one batch lookup.
const DefaultBatchSize = 100

// DefaultMaxBatchAttempts bounds how often one batch is re-requested while
// the service keeps answering unprocessed keys.
const DefaultMaxBatchAttempts = 8

// CollectPages calls fetch until the continuation token is exhausted and
// returns the items of every page in order.
func CollectPages[T any](ctx context.Context, fetch func(ctx context.Context, token *string) (Page[T], error)) ([]T, error) {
	var (
		out   []T
		token *string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := fetch(ctx, token)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)

		if page.NextToken == nil || *page.NextToken == "" {
			return out, nil
		}
		token = page.NextToken
	}
}

// ResolveBatches looks keys up in batches of batchSize, re-requesting the
// unprocessed keys of each batch until none remain. Duplicate keys are
// requested once. The service may answer an item and also list its key as
// unprocessed, so items are de-duplicated by keyOf, keeping the first.
func ResolveBatches[T any](ctx context.Context, keys []string, batchSize, maxAttempts int,
	keyOf func(T) string, fetch func(ctx context.Context, keys []string) (BatchResult[T], error)) ([]T, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxBatchAttempts
	}

	keys = Dedup(keys)

	var out []T
	seen := make(map[string]struct{}, len(keys))
	for start := 0; start < len(keys); start += batchSize {
		pending := keys[start:min(start+batchSize, len(keys))]

		for attempt := 1; len(pending) > 0; attempt++ {
			if attempt > maxAttempts {
				return nil, fmt.Errorf("%d keys still unprocessed after %d attempts", len(pending), maxAttempts)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			res, err := fetch(ctx, pending)
			if err != nil {
				return nil, err
			}
			for _, item := range res.Items {
				k := keyOf(item)
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, item)
			}
			pending = res.UnprocessedKeys
		}
	}
	return out, nil
}

// Dedup returns keys without duplicates, keeping the first occurrence.
func Dedup(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
