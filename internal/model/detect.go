package model

import "context"

// SystemInfoStore is the slice of the metadata store the detection service
// needs. *store.Metadata satisfies it.
type SystemInfoStore interface {
	SystemInfo(ctx context.Context) (*SystemInfo, error)
	StoreSystemInfo(ctx context.Context, info SystemInfo) error
}

// Detect decides the effective mode for a dataset at open time: the stored
// singleton when present, otherwise the text/MiniLM default. The default is
// NOT materialized here — only the first ingest writes it — so opening a
// missing dataset for reading stays a read-only operation.
//
// stored reports whether the info came from the database.
func Detect(ctx context.Context, s SystemInfoStore) (info SystemInfo, stored bool, err error) {
	existing, err := s.SystemInfo(ctx)
	if err != nil {
		return SystemInfo{}, false, err
	}
	if existing != nil {
		return *existing, true, nil
	}

	spec, err := Lookup(DefaultModelName)
	if err != nil {
		return SystemInfo{}, false, err
	}
	return spec.SystemInfo(), false, nil
}

// Store writes the singleton (INSERT OR REPLACE semantics are the store's).
func Store(ctx context.Context, s SystemInfoStore, info SystemInfo) error {
	return s.StoreSystemInfo(ctx, info)
}
