package result

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Clean removes run directories whose record is older than cutoff, along
// with their lines in the results log and their cache entries. Directories
// left empty are pruned. It returns the number of runs removed.
func Clean(baseDir string, cutoff time.Time) (int, error) {
	paths, err := FindRecords(baseDir)
	if err != nil {
		return 0, fmt.Errorf("scanning %s: %w", baseDir, err)
	}
	removed := map[string]bool{}
	for _, p := range paths {
		rec, err := ReadRecord(p)
		if err != nil {
			log.Printf("warning: %v", err)
			continue
		}
		if !rec.Timestamp.Before(cutoff) {
			continue
		}
		runDir := filepath.Dir(p)
		if err := os.RemoveAll(runDir); err != nil {
			return len(removed), fmt.Errorf("removing %s: %w", runDir, err)
		}
		removed[rec.ID] = true
		pruneEmpty(filepath.Dir(runDir), baseDir)
	}

	db := OpenDB(baseDir)
	recs, err := db.Load()
	if err != nil {
		return len(removed), err
	}
	kept := recs[:0]
	for _, r := range recs {
		if !removed[r.ID] && !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	if len(kept) != len(recs) {
		if err := db.Rewrite(kept); err != nil {
			return len(removed), err
		}
	}
	if _, err := OpenCache(baseDir).Prune(func(r *RunRecord) bool {
		return removed[r.ID] || r.Timestamp.Before(cutoff)
	}); err != nil {
		return len(removed), err
	}
	if latest := filepath.Join(baseDir, "latest"); danglingLink(latest) {
		os.Remove(latest)
	}
	return len(removed), nil
}

func pruneEmpty(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && len(dir) > len(stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

func danglingLink(path string) bool {
	if _, err := os.Lstat(path); err != nil {
		return false
	}
	_, err := os.Stat(path)
	return err != nil
}
