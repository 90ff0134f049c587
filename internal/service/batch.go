package service

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type BatchItem struct {
	ID string `json:"id"`
	RouteRequest
}

type BatchResult struct {
	ID string `json:"id"`
	RouteResponse
}

// RouteBatch routes items in sequential groups of the configured batch size.
// Items inside a group run concurrently. Results keep input order and one
// item's failure never affects another.
func (r *Router) RouteBatch(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))
	for _, bounds := range groupBounds(len(items), r.batchSize) {
		var group errgroup.Group
		for index := bounds[0]; index < bounds[1]; index++ {
			index := index
			item := items[index]
			group.Go(func() error {
				results[index] = BatchResult{ID: item.ID, RouteResponse: r.Route(ctx, item.RouteRequest)}
				return nil
			})
		}
		_ = group.Wait()
		r.logf("batch group [%d,%d) done", bounds[0], bounds[1])
	}
	return results
}

func groupBounds(total, size int) [][2]int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	bounds := make([][2]int, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		end := min(start+size, total)
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}
