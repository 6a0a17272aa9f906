package transfer

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-git/go-billy/v5"
	"golang.org/x/sync/errgroup"

	"cloudstash/internal/container"
	"cloudstash/internal/interfaces"
	"cloudstash/internal/models"
)

// LocalSizes stats every path concurrently and returns the sizes in input
// order. A path that cannot be stat'ed counts as zero bytes; its job fails
// later when the file is copied.
func LocalSizes(ctx context.Context, fs billy.Filesystem, paths []string, workers int) ([]int64, error) {
	sizes := make([]int64, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := fs.Stat(p)
			if err != nil {
				slog.Warn("failed to stat upload source", "path", p, "error", err)
				return nil
			}
			sizes[i] = info.Size()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sizes, nil
}

// RemoteItems runs one gathering query for the display names of rels and
// returns the indexed items found at exactly those container paths.
func RemoteItems(ctx context.Context, platform interfaces.Platform, rels []string) (map[string]models.ItemAttributes, error) {
	found := make(map[string]models.ItemAttributes)
	if len(rels) == 0 {
		return found, nil
	}

	wanted := mapset.NewSet[string](rels...)
	names := mapset.NewSet[string]()
	for _, rel := range rels {
		names.Add(container.DisplayName(rel))
	}

	query := platform.NewQuery(models.NameIn(names.ToSlice()...), models.AllScopes)
	if err := query.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start existence query: %w", err)
	}
	defer query.Stop()

	for gathered := false; !gathered; {
		select {
		case n, ok := <-query.Notifications():
			if !ok {
				return nil, fmt.Errorf("existence query ended before gathering finished")
			}
			gathered = n == interfaces.DidFinishGathering
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for _, item := range query.Results() {
		if wanted.Contains(item.Path) {
			found[item.Path] = item
		}
	}
	return found, nil
}
