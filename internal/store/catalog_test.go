package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestFetcherBodyLimit verifies that oversized catalogs are rejected
// instead of consuming unbounded memory.
func TestFetcherBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		chunk := strings.Repeat("A", 1024*1024)
		for i := 0; i < 12; i++ {
			if _, err := w.Write([]byte(chunk)); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	_, err := NewFetcher(server.URL, testLogger).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error for oversized response, got nil")
	}
	if !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("expected body limit error, got: %v", err)
	}
}

func TestFetcherHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := NewFetcher(server.URL, testLogger).Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
	if _, err := NewFetcher("", testLogger).Fetch(context.Background()); err == nil {
		t.Fatal("expected error without source URL")
	}
}

func TestImportCatalogKeepsExisting(t *testing.T) {
	s, err := Open(t.TempDir(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Objects.Add(Object{Name: "M31", Type: "Galaxy", RAHours: 0.71, DecDeg: 41.27, SizeMajorArcm: 1}); err != nil {
		t.Fatal(err)
	}

	data := []byte("M31,,Galaxy,0.5,10,3.4,178,63\nM33,Triangulum,Galaxy,01:33:50.9,+30:39:37,5.7,73,45\nbad row\n")
	added, existing, err := s.ImportCatalog(data)
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 || existing != 1 {
		t.Errorf("added=%d existing=%d, want 1 and 1", added, existing)
	}
	m31, _ := s.Objects.Get("M31")
	if m31.SizeMajorArcm != 1 {
		t.Error("import overwrote an existing object")
	}
}

const catalogRows = "M31,,Galaxy,00:42:44.3,+41:16:09,3.4,178,63\n"

func TestCatalogCacheSaveAndPrune(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalogCache(dir, 2, testLogger)
	base := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		data := []byte(catalogRows + fmt.Sprintf("M%d,,Nebula,1,10,5,1,1\n", 40+i))
		snap, err := c.Save(data, base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if snap.Objects != 2 {
			t.Errorf("snapshot %d objects = %d, want 2", i, snap.Objects)
		}
	}
	files, err := filepath.Glob(filepath.Join(dir, "objects-*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("snapshots on disk = %v, want 2", files)
	}

	latest, err := c.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if !latest.FetchedAt.Equal(base.Add(3*time.Hour)) || !strings.Contains(string(latest.Data), "M43") {
		t.Errorf("latest = %s at %v", latest.Data, latest.FetchedAt)
	}
	if filepath.Base(latest.Path) != "objects-20260116T010000Z.txt" {
		t.Errorf("path = %s", latest.Path)
	}
}

func TestCatalogCacheRefusesJunkAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalogCache(dir, 5, testLogger)
	if _, err := c.Latest(); err == nil {
		t.Error("Latest on an empty cache should fail")
	}
	if _, err := c.Save([]byte("<html>502 Bad Gateway</html>\n"), time.Now()); err == nil {
		t.Error("Save accepted data without object rows")
	}

	first, err := c.Save([]byte(catalogRows), time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatal(err)
	}
	again, err := c.Save([]byte(catalogRows), time.Unix(1_700_003_600, 0))
	if err != nil {
		t.Fatal(err)
	}
	if again.Path != first.Path {
		t.Errorf("identical download stored twice: %s, %s", first.Path, again.Path)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "objects-*.txt"))
	if len(files) != 1 {
		t.Errorf("snapshots on disk = %v, want 1", files)
	}
}
