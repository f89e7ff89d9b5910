package domain

import "context"

// Fetcher resolves and downloads the files of a manifest into local
// staging storage, verifying integrity.
type Fetcher interface {
	Fetch(ctx context.Context, manifest Manifest) (*LocalManifest, error)
}

// Validator turns a local manifest into a typed dataset or rejects it.
type Validator interface {
	Validate(ctx context.Context, local *LocalManifest) (*Dataset, error)
}

// Loader applies a validated dataset to the live table set.
type Loader interface {
	Load(ctx context.Context, dataset *Dataset) (*LoadResult, error)
}

// Migrator brings the schema to the latest version before any data
// load proceeds.
type Migrator interface {
	Apply(ctx context.Context) (uint, error)
}
