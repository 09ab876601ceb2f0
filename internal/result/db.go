package result

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DBFile is the append-only run history kept at the results root.
const DBFile = "results.jsonl"

// DB is a JSON-lines log of run records. Appends are serialized so
// parallel runs in one process never interleave lines.
type DB struct {
	Path string
	mu   sync.Mutex
}

func OpenDB(baseDir string) *DB {
	return &DB{Path: filepath.Join(baseDir, DBFile)}
}

func (db *DB) Append(rec *RunRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", rec.ID, err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(db.Path), 0o755); err != nil {
		return fmt.Errorf("creating results dir: %w", err)
	}
	f, err := os.OpenFile(db.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", db.Path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", db.Path, err)
	}
	return f.Close()
}

// Load reads every record, oldest first. Malformed lines are skipped
// with a warning. A missing file yields no records.
func (db *DB) Load() ([]RunRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	f, err := os.Open(db.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", db.Path, err)
	}
	defer f.Close()

	var recs []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			log.Printf("warning: %s:%d: skipping malformed record: %v", db.Path, n, err)
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return recs, fmt.Errorf("reading %s: %w", db.Path, err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	return recs, nil
}

// Find returns the record with the given run ID.
func (db *DB) Find(id string) (*RunRecord, error) {
	recs, err := db.Load()
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i], nil
		}
	}
	return nil, fmt.Errorf("run %s not found in %s", id, db.Path)
}

// Rewrite replaces the log with recs.
func (db *DB) Rewrite(recs []RunRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	tmp := db.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			f.Close()
			return fmt.Errorf("writing record %s: %w", recs[i].ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, db.Path)
}
