package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	obsmetrics "github.com/offsetsdb/offsetsdb/internal/observability/metrics"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// Fetcher downloads manifest files from an object store into a per-run
// local staging directory, verifying each file's checksum. Staging and
// production point at different buckets; the bucket handle passed in
// is already environment-scoped.
type Fetcher struct {
	bucket   *blob.Bucket
	log      *zap.Logger
	metrics  *obsmetrics.Ingest
	attempts int
	tmpRoot  string
}

func New(bucket *blob.Bucket, log *zap.Logger, metrics *obsmetrics.Ingest, attempts int) *Fetcher {
	if attempts <= 0 {
		attempts = 3
	}
	return &Fetcher{
		bucket:   bucket,
		log:      log.Named("ingest.fetcher"),
		metrics:  metrics,
		attempts: attempts,
		tmpRoot:  os.TempDir(),
	}
}

// OpenBucket opens the environment's bucket from its URL, e.g.
// s3://offsets-db-staging or file:///var/data/offsets.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return bucket, nil
}

// Fetch downloads every manifest entry, verifies its checksum against
// the manifest, and returns the assembled local manifest. A checksum
// mismatch rejects the whole run (ErrIntegrity); transient failures
// are retried with bounded exponential backoff before surfacing
// ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, manifest domain.Manifest) (*domain.LocalManifest, error) {
	if len(manifest.Entries) == 0 {
		return nil, fmt.Errorf("%w: manifest has no entries", domain.ErrFetch)
	}

	stagingDir, err := os.MkdirTemp(f.tmpRoot, "offsetsdb-ingest-")
	if err != nil {
		return nil, fmt.Errorf("%w: create staging dir: %v", domain.ErrFetch, err)
	}

	local := &domain.LocalManifest{Manifest: manifest, StagingDir: stagingDir}
	for _, entry := range manifest.Entries {
		file, err := f.fetchOne(ctx, stagingDir, entry)
		if err != nil {
			// Nothing staged so far is usable once one entry fails.
			if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
				f.log.Warn("remove staging dir", zap.String("dir", stagingDir), zap.Error(rmErr))
			}
			return nil, err
		}
		local.Files = append(local.Files, *file)
	}

	return local, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, stagingDir string, entry domain.Entry) (*domain.LocalFile, error) {
	key := KeyFromURL(entry.URL)

	var data []byte
	op := func() error {
		var readErr error
		data, readErr = f.bucket.ReadAll(ctx, key)
		if readErr == nil {
			return nil
		}
		if gcerrors.Code(readErr) == gcerrors.NotFound {
			// Missing objects do not heal on retry.
			return backoff.Permanent(readErr)
		}
		f.metrics.IncFetchRetry()
		f.log.Warn("fetch retrying", zap.String("key", key), zap.Error(readErr))
		return readErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(f.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrFetch, entry.URL, err)
	}

	if entry.Checksum != "" {
		actual := Checksum(data)
		if actual != entry.Checksum {
			return nil, fmt.Errorf("%w: %s: manifest declares %s, got %s",
				domain.ErrIntegrity, entry.URL, entry.Checksum, actual)
		}
	}
	if entry.ByteSize > 0 && int64(len(data)) != entry.ByteSize {
		return nil, fmt.Errorf("%w: %s: manifest declares %d bytes, got %d",
			domain.ErrIntegrity, entry.URL, entry.ByteSize, len(data))
	}

	localPath := filepath.Join(stagingDir, fmt.Sprintf("%s-%s", entry.Category, path.Base(key)))
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: stage %s: %v", domain.ErrFetch, entry.URL, err)
	}

	f.log.Info("fetched file",
		zap.String("category", string(entry.Category)),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)

	out := entry
	out.ByteSize = int64(len(data))
	return &domain.LocalFile{Entry: out, Path: localPath}, nil
}

// LoadManifest reads a manifest JSON document from the bucket.
func (f *Fetcher) LoadManifest(ctx context.Context, manifestURL string) (domain.Manifest, error) {
	key := KeyFromURL(manifestURL)

	data, err := f.bucket.ReadAll(ctx, key)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: manifest %s: %v", domain.ErrFetch, manifestURL, err)
	}

	var manifest domain.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: parse manifest %s: %v", domain.ErrFetch, manifestURL, err)
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	return manifest, nil
}

// Checksum computes the manifest checksum representation of data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// KeyFromURL strips an object URL down to its bucket-relative key.
// Bare keys pass through unchanged.
func KeyFromURL(raw string) string {
	rest := raw
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
		// Drop the bucket host segment.
		if slash := strings.Index(rest, "/"); slash >= 0 {
			rest = rest[slash+1:]
		} else {
			rest = ""
		}
	}
	return strings.TrimPrefix(rest, "/")
}
