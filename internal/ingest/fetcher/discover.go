package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	"go.uber.org/zap"
)

// discoveryCategories are probed in load order: projects must precede
// credits so referential checks see the accompanying snapshot.
var discoveryCategories = []domain.FileCategory{
	domain.CategoryProjects,
	domain.CategoryCredits,
	domain.CategoryClips,
}

// Discover assembles a manifest from the conventional bucket layout
// final/YYYY-MM-DD/<category>.csv, preferring today's files and
// falling back to yesterday's per category. Categories missing on both
// days are skipped with a warning.
func (f *Fetcher) Discover(ctx context.Context, asOf time.Time) (domain.Manifest, error) {
	asOf = asOf.UTC()
	manifest := domain.Manifest{CreatedAt: asOf}

	for _, category := range discoveryCategories {
		latest := discoveryKey(asOf, category)
		previous := discoveryKey(asOf.AddDate(0, 0, -1), category)

		key, err := f.firstExisting(ctx, latest, previous)
		if err != nil {
			return domain.Manifest{}, err
		}
		if key == "" {
			f.log.Warn("no data file found, skipping category",
				zap.String("category", string(category)),
				zap.String("latest", latest),
				zap.String("previous", previous),
			)
			continue
		}

		attrs, err := f.bucket.Attributes(ctx, key)
		if err != nil {
			return domain.Manifest{}, fmt.Errorf("%w: attributes %s: %v", domain.ErrFetch, key, err)
		}

		manifest.Entries = append(manifest.Entries, domain.Entry{
			URL:      key,
			Category: category,
			ByteSize: attrs.Size,
		})
	}

	return manifest, nil
}

func (f *Fetcher) firstExisting(ctx context.Context, keys ...string) (string, error) {
	for _, key := range keys {
		exists, err := f.bucket.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("%w: probe %s: %v", domain.ErrFetch, key, err)
		}
		if exists {
			return key, nil
		}
	}
	return "", nil
}

func discoveryKey(date time.Time, category domain.FileCategory) string {
	return fmt.Sprintf("final/%s/%s.csv", date.Format("2006-01-02"), category)
}
