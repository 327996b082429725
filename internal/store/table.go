package store

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/aplab/internal/metrics"
)

// snapshot is an immutable view of one data file.
type snapshot[T any] struct {
	header   string
	records  []T
	version  uint64
	loadedAt time.Time
	sum      uint64 // FNV-1a of the file bytes this snapshot matches
}

// Table provides thread-safe access to one flat data file. Readers get the
// current snapshot lock-free; mutations are serialized, rewrite the whole
// file, and only then publish a new snapshot.
type Table[T Record[T]] struct {
	kind   string
	path   string
	codec  codec[T]
	logger *slog.Logger

	snap atomic.Pointer[snapshot[T]]
	mu   sync.Mutex // serializes writers and reloads
}

func newTable[T Record[T]](kind, dir, file string, c codec[T], logger *slog.Logger) *Table[T] {
	t := &Table[T]{
		kind:   kind,
		path:   filepath.Join(dir, file),
		codec:  c,
		logger: logger.With("component", "store", "kind", kind),
	}
	t.snap.Store(&snapshot[T]{header: c.header})
	return t
}

// Kind returns the record kind name ("cameras", "objects", ...).
func (t *Table[T]) Kind() string { return t.kind }

// Path returns the backing file path.
func (t *Table[T]) Path() string { return t.path }

// Version increases every time a new snapshot is published.
func (t *Table[T]) Version() uint64 { return t.snap.Load().version }

// List returns a copy of all records in file order.
func (t *Table[T]) List() []T {
	s := t.snap.Load()
	out := make([]T, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (t *Table[T]) Len() int { return len(t.snap.Load().records) }

// Get returns the record whose name matches case-insensitively.
func (t *Table[T]) Get(name string) (T, error) {
	s := t.snap.Load()
	if i := indexOf(s.records, name); i >= 0 {
		return s.records[i], nil
	}
	var zero T
	return zero, fmt.Errorf("%s %q: %w", t.kind, name, ErrNotFound)
}

// Find returns the first record for which match returns true.
func (t *Table[T]) Find(match func(T) bool) (T, bool) {
	for _, r := range t.snap.Load().records {
		if match(r) {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// Add appends a new record.
func (t *Table[T]) Add(rec T) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return t.mutate("add", func(recs []T) ([]T, error) {
		if indexOf(recs, rec.Key()) >= 0 {
			return nil, fmt.Errorf("%s %q: %w", t.kind, rec.Key(), ErrExists)
		}
		return append(recs, rec), nil
	})
}

// Update replaces the record called name. If rec carries a different name
// the record is renamed as part of the update.
func (t *Table[T]) Update(name string, rec T) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return t.mutate("update", func(recs []T) ([]T, error) {
		i := indexOf(recs, name)
		if i < 0 {
			return nil, fmt.Errorf("%s %q: %w", t.kind, name, ErrNotFound)
		}
		if j := indexOf(recs, rec.Key()); j >= 0 && j != i {
			return nil, fmt.Errorf("%s %q: %w", t.kind, rec.Key(), ErrExists)
		}
		recs[i] = rec
		return recs, nil
	})
}

// Rename changes a record's name, keeping its position in the file.
func (t *Table[T]) Rename(oldName, newName string) error {
	if err := ValidateName(newName); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return t.mutate("rename", func(recs []T) ([]T, error) {
		i := indexOf(recs, oldName)
		if i < 0 {
			return nil, fmt.Errorf("%s %q: %w", t.kind, oldName, ErrNotFound)
		}
		if j := indexOf(recs, newName); j >= 0 && j != i {
			return nil, fmt.Errorf("%s %q: %w", t.kind, newName, ErrExists)
		}
		recs[i] = recs[i].Renamed(newName)
		return recs, nil
	})
}

// Delete removes the record called name.
func (t *Table[T]) Delete(name string) error {
	return t.mutate("delete", func(recs []T) ([]T, error) {
		i := indexOf(recs, name)
		if i < 0 {
			return nil, fmt.Errorf("%s %q: %w", t.kind, name, ErrNotFound)
		}
		return append(recs[:i], recs[i+1:]...), nil
	})
}

// Merge adds every record whose name is not present yet and returns how
// many were added. Existing records win.
func (t *Table[T]) Merge(incoming []T) (int, error) {
	var added int
	err := t.mutate("merge", func(recs []T) ([]T, error) {
		added = 0
		for _, rec := range incoming {
			if rec.Validate() != nil || indexOf(recs, rec.Key()) >= 0 {
				continue
			}
			recs = append(recs, rec)
			added++
		}
		return recs, nil
	})
	return added, err
}

// mutate applies fn to a private copy of the records, rewrites the file and
// publishes the result. Nothing is published if fn or the write fails.
func (t *Table[T]) mutate(op string, fn func([]T) ([]T, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snap.Load()
	recs := make([]T, len(cur.records))
	copy(recs, cur.records)

	next, err := fn(recs)
	if err != nil {
		return err
	}

	data, err := t.encode(cur.header, next)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(t.path, data); err != nil {
		return fmt.Errorf("writing %s: %w", t.path, err)
	}

	t.publish(cur, cur.header, next, checksum(data))
	metrics.IncStoreMutations(t.kind, op)
	t.logger.Info("store updated", "op", op, "records", len(next))
	return nil
}

// Reload re-reads the backing file. A missing file yields an empty table.
// If the content is unchanged since the last load or write, nothing is
// published and the version stays the same.
func (t *Table[T]) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", t.path, err)
	}

	cur := t.snap.Load()
	sum := checksum(data)
	if cur.version > 0 && sum == cur.sum {
		return nil
	}

	header, recs := t.parse(data)
	t.publish(cur, header, recs, sum)
	t.logger.Info("store loaded", "path", t.path, "records", len(recs))
	return nil
}

func (t *Table[T]) publish(cur *snapshot[T], header string, recs []T, sum uint64) {
	t.snap.Store(&snapshot[T]{
		header:   header,
		records:  recs,
		version:  cur.version + 1,
		loadedAt: time.Now(),
		sum:      sum,
	})
	metrics.SetStoreRecords(t.kind, len(recs))
}

// parse reads rows line by line. Malformed rows are logged and skipped.
func (t *Table[T]) parse(data []byte) (string, []T) {
	header := t.codec.header
	var recs []T

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if lineNo == 1 {
				header = line
			}
			continue
		}

		r := csv.NewReader(strings.NewReader(line))
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		fields, err := r.Read()
		if err != nil {
			t.logger.Warn("skipping malformed row", "line", lineNo, "error", err)
			continue
		}
		for len(fields) < t.codec.fields {
			// Trailing optional columns may be omitted.
			fields = append(fields, "")
		}
		if len(fields) > t.codec.fields {
			t.logger.Warn("skipping row with too many columns", "line", lineNo, "columns", len(fields))
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		rec, err := t.codec.decode(fields)
		if err == nil {
			err = rec.Validate()
		}
		if err != nil {
			t.logger.Warn("skipping invalid row", "line", lineNo, "name", fields[0], "error", err)
			continue
		}
		if indexOf(recs, rec.Key()) >= 0 {
			t.logger.Warn("skipping duplicate row", "line", lineNo, "name", rec.Key())
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Warn("data file read stopped early", "error", err)
	}

	return header, recs
}

func (t *Table[T]) encode(header string, recs []T) ([]byte, error) {
	var buf bytes.Buffer
	if header != "" {
		buf.WriteString(header)
		buf.WriteByte('\n')
	}
	w := csv.NewWriter(&buf)
	for _, rec := range recs {
		if err := w.Write(t.codec.encode(rec)); err != nil {
			return nil, fmt.Errorf("encoding %s %q: %w", t.kind, rec.Key(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", t.kind, err)
	}
	return buf.Bytes(), nil
}

func indexOf[T Record[T]](recs []T, name string) int {
	for i, r := range recs {
		if strings.EqualFold(r.Key(), name) {
			return i
		}
	}
	return -1
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func checksum(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
