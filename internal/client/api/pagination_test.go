package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCollectPages_FollowsTokensUntilExhausted(t *testing.T) {
	pages := map[string]Page[string]{
		"":   {Items: []string{"a", "b"}, NextToken: strPtr("p2")},
		"p2": {Items: []string{"c"}, NextToken: strPtr("p3")},
		"p3": {Items: []string{"d"}, NextToken: strPtr("")},
	}
	var seen []string

	got, err := CollectPages(context.Background(), func(ctx context.Context, token *string) (Page[string], error) {
		key := ""
		if token != nil {
			key = *token
		}
		seen = append(seen, key)
		return pages[key], nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	assert.Equal(t, []string{"", "p2", "p3"}, seen)
}

func TestCollectPages_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := CollectPages(context.Background(), func(ctx context.Context, token *string) (Page[int], error) {
		calls++
		if calls == 2 {
			return Page[int]{}, boom
		}
		return Page[int]{Items: []int{calls}, NextToken: strPtr("more")}, nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestResolveBatches_RetriesUnprocessedKeys(t *testing.T) {
	keys := []string{"k1", "k2", "k3", "k1", "k4", "k5"}
	var requests [][]string
	firstSeen := map[string]bool{}

	got, err := ResolveBatches(context.Background(), keys, 3, 5, identity,
		func(ctx context.Context, batch []string) (BatchResult[string], error) {
			requests = append(requests, append([]string(nil), batch...))
			var res BatchResult[string]
			for _, k := range batch {
				// k2 is left unprocessed the first time it is asked for
				if k == "k2" && !firstSeen[k] {
					firstSeen[k] = true
					res.UnprocessedKeys = append(res.UnprocessedKeys, k)
					continue
				}
				res.Items = append(res.Items, "v"+k)
			}
			return res, nil
		})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vk1", "vk2", "vk3", "vk4", "vk5"}, got)
	assert.Equal(t, [][]string{{"k1", "k2", "k3"}, {"k2"}, {"k4", "k5"}}, requests)
}

func TestResolveBatches_DropsItemsAnsweredTwice(t *testing.T) {
	type row struct{ id, v string }
	calls := 0

	got, err := ResolveBatches(context.Background(), []string{"a", "b"}, 10, 3,
		func(r row) string { return r.id },
		func(ctx context.Context, batch []string) (BatchResult[row], error) {
			calls++
			if calls == 1 {
				// a is answered and still reported unprocessed
				return BatchResult[row]{
					Items:           []row{{"a", "first"}, {"b", "first"}},
					UnprocessedKeys: []string{"a"},
				}, nil
			}
			return BatchResult[row]{Items: []row{{"a", "second"}}}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []row{{"a", "first"}, {"b", "first"}}, got)
}

func TestResolveBatches_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := ResolveBatches(context.Background(), []string{"a"}, 10, 3, identity,
		func(ctx context.Context, batch []string) (BatchResult[string], error) {
			calls++
			return BatchResult[string]{UnprocessedKeys: batch}, nil
		})
	require.ErrorContains(t, err, "unprocessed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestResolveBatches_EmptyKeys(t *testing.T) {
	got, err := ResolveBatches(context.Background(), nil, 0, 0, identity,
		func(ctx context.Context, batch []string) (BatchResult[string], error) {
			return BatchResult[string]{}, fmt.Errorf("must not be called")
		})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func identity(s string) string { return s }

func TestDedup(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedup([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, Dedup(nil))
}
