package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// maxCatalogBytes caps a remote catalog download.
const maxCatalogBytes = 10 << 20

// Fetcher retrieves an object catalog file (objectdata.txt format) from a
// remote source.
type Fetcher struct {
	sourceURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URL.
func NewFetcher(sourceURL string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		sourceURL: sourceURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch performs an HTTP GET and returns the body, refusing bodies larger
// than maxCatalogBytes.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.sourceURL == "" {
		return nil, fmt.Errorf("no catalog source configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxCatalogBytes {
		return nil, fmt.Errorf("catalog exceeds %d byte limit", maxCatalogBytes)
	}

	f.logger.Info("catalog fetched", "component", "catalog", "source_url", f.sourceURL, "bytes", len(body))
	return body, nil
}

// Snapshot file names carry the fetch time in UTC.
const (
	snapshotPrefix = "objects-"
	snapshotLayout = "20060102T150405Z"
)

// CatalogSnapshot is one archived catalog download.
type CatalogSnapshot struct {
	Path      string
	FetchedAt time.Time
	Objects   int
	Data      []byte
}

// CatalogCache archives downloaded catalogs so an import can fall back to
// the last good copy when the source is unreachable.
type CatalogCache struct {
	dir      string
	maxFiles int
	logger   *slog.Logger
}

// NewCatalogCache keeps at most maxFiles snapshots (default 5) in dir.
func NewCatalogCache(dir string, maxFiles int, logger *slog.Logger) *CatalogCache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &CatalogCache{dir: dir, maxFiles: maxFiles, logger: logger}
}

// Save archives data fetched at ts and drops snapshots beyond the limit.
// Data without a single valid object row is refused, and a download equal
// to the newest snapshot is not stored twice.
func (c *CatalogCache) Save(data []byte, ts time.Time) (CatalogSnapshot, error) {
	n := len(ParseObjects(data, c.logger))
	if n == 0 {
		return CatalogSnapshot{}, fmt.Errorf("catalog has no valid object rows")
	}

	snaps, err := c.snapshots()
	if err != nil {
		return CatalogSnapshot{}, err
	}
	if len(snaps) > 0 {
		if prev, err := os.ReadFile(snaps[0].Path); err == nil && checksum(prev) == checksum(data) {
			snaps[0].Objects, snaps[0].Data = n, prev
			return snaps[0], nil
		}
	}

	ts = ts.UTC()
	snap := CatalogSnapshot{
		Path:      filepath.Join(c.dir, snapshotPrefix+ts.Format(snapshotLayout)+".txt"),
		FetchedAt: ts.Truncate(time.Second),
		Objects:   n,
		Data:      data,
	}
	if err := writeFileAtomic(snap.Path, data); err != nil {
		return CatalogSnapshot{}, fmt.Errorf("writing catalog snapshot: %w", err)
	}

	snaps = append([]CatalogSnapshot{snap}, snaps...)
	for _, old := range snaps[min(len(snaps), c.maxFiles):] {
		if old.Path == snap.Path {
			continue
		}
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			return snap, fmt.Errorf("pruning catalog snapshot: %w", err)
		}
	}
	return snap, nil
}

// Latest returns the newest snapshot with its data.
func (c *CatalogCache) Latest() (CatalogSnapshot, error) {
	snaps, err := c.snapshots()
	if err != nil {
		return CatalogSnapshot{}, err
	}
	if len(snaps) == 0 {
		return CatalogSnapshot{}, fmt.Errorf("no catalog snapshot in %s", c.dir)
	}
	snap := snaps[0]
	if snap.Data, err = os.ReadFile(snap.Path); err != nil {
		return CatalogSnapshot{}, fmt.Errorf("reading catalog snapshot: %w", err)
	}
	snap.Objects = len(ParseObjects(snap.Data, c.logger))
	return snap, nil
}

// snapshots lists archived files newest first, without reading them.
func (c *CatalogCache) snapshots() ([]CatalogSnapshot, error) {
	paths, err := filepath.Glob(filepath.Join(c.dir, snapshotPrefix+"*.txt"))
	if err != nil {
		return nil, err
	}
	var snaps []CatalogSnapshot
	for _, p := range paths {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), snapshotPrefix), ".txt")
		ts, err := time.Parse(snapshotLayout, stamp)
		if err != nil {
			continue
		}
		snaps = append(snaps, CatalogSnapshot{Path: p, FetchedAt: ts})
	}
	slices.SortFunc(snaps, func(a, b CatalogSnapshot) int {
		return b.FetchedAt.Compare(a.FetchedAt)
	})
	return snaps, nil
}

// ParseObjects decodes catalog data in objectdata.txt format without
// touching any table. Malformed rows are logged and skipped.
func ParseObjects(data []byte, logger *slog.Logger) []Object {
	scratch := newTable("objects", "", "", objectCodec, logger)
	_, recs := scratch.parse(data)
	return recs
}

// ImportCatalog merges catalog data into the object table and returns the
// number of objects added and the number already present.
func (s *Store) ImportCatalog(data []byte) (added, existing int, err error) {
	objs := ParseObjects(data, s.logger)
	added, err = s.Objects.Merge(objs)
	if err != nil {
		return 0, 0, err
	}
	return added, len(objs) - added, nil
}
