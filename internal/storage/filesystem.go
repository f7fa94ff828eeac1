package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"negotiation-scoring-go/internal/types"
)

// Filesystem stores artifacts as date-partitioned JSON files:
//
//	<base>/transcripts/YYYY-MM-DD/<session>_raw.json
//	<base>/reports/YYYY-MM-DD/<session>_report.json
//	<base>/reports/YYYY-MM-DD/<session>_report_r2.json   (rescore revisions)
//
// Writes go to a temp file and are renamed into place, so a partially
// written artifact is never visible. A per-session mutex serializes
// concurrent writes for the same session; different sessions never contend.
type Filesystem struct {
	transcriptsDir string
	reportsDir     string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFilesystem(basePath string) (*Filesystem, error) {
	fs := &Filesystem{
		transcriptsDir: filepath.Join(basePath, "transcripts"),
		reportsDir:     filepath.Join(basePath, "reports"),
		locks:          map[string]*sync.Mutex{},
	}
	for _, dir := range []string{fs.transcriptsDir, fs.reportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return fs, nil
}

func (f *Filesystem) sessionLock(sessionID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[sessionID] = lock
	}
	return lock
}

func dateDir(timestamp float64) string {
	return time.Unix(int64(timestamp), 0).UTC().Format("2006-01-02")
}

func (f *Filesystem) SaveTranscript(transcript types.RawTranscript) (string, error) {
	lock := f.sessionLock(transcript.SessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(f.transcriptsDir, dateDir(transcript.SessionStartTime))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript dir: %w", err)
	}
	path := filepath.Join(dir, transcript.SessionID+"_raw.json")
	if err := writeAtomic(path, transcript); err != nil {
		return "", err
	}
	return path, nil
}

func (f *Filesystem) LoadTranscript(sessionID string) (types.RawTranscript, error) {
	var t types.RawTranscript
	path, err := findFile(f.transcriptsDir, sessionID+"_raw.json")
	if err != nil {
		return t, err
	}
	if err := readJSON(path, &t); err != nil {
		return t, err
	}
	return t, nil
}

// SaveReport writes the report as a new immutable revision: the first save
// lands at <session>_report.json, later saves at _report_r2, _r3, ...
func (f *Filesystem) SaveReport(report types.AfterActionReport) (string, error) {
	sessionID := report.SessionMetadata.SessionID
	lock := f.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(f.reportsDir, dateDir(report.SessionMetadata.SessionStartTime))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	// The exclusive create reserves the revision name, which holds across
	// processes where the session mutex does not; the atomic write then
	// renames the full document over the placeholder.
	path := filepath.Join(dir, sessionID+"_report.json")
	for rev := 2; ; rev++ {
		reserved, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			reserved.Close()
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("reserve report path: %w", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_report_r%d.json", sessionID, rev))
	}

	if err := writeAtomic(path, report); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (f *Filesystem) LoadReport(sessionID string) (types.AfterActionReport, error) {
	var r types.AfterActionReport
	paths, err := findReportRevisions(f.reportsDir, sessionID)
	if err != nil {
		return r, err
	}
	if len(paths) == 0 {
		return r, ErrNotFound
	}
	if err := readJSON(paths[len(paths)-1], &r); err != nil {
		return r, err
	}
	return r, nil
}

func (f *Filesystem) ListReports() ([]types.AfterActionReport, error) {
	latest := map[string]string{}  // session id -> latest path seen
	revision := map[string]int{}   // session id -> revision of that path

	err := filepath.WalkDir(f.reportsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		sessionID, rev, ok := parseReportName(d.Name())
		if !ok {
			return nil
		}
		if rev > revision[sessionID] {
			revision[sessionID] = rev
			latest[sessionID] = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk reports: %w", err)
	}

	var out []types.AfterActionReport
	for _, path := range latest {
		var r types.AfterActionReport
		if err := readJSON(path, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionMetadata.SessionStartTime < out[j].SessionMetadata.SessionStartTime
	})
	return out, nil
}

func parseReportName(name string) (sessionID string, rev int, ok bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", 0, false
	}
	base := strings.TrimSuffix(name, ".json")
	if i := strings.LastIndex(base, "_report_r"); i >= 0 {
		n, err := strconv.Atoi(base[i+len("_report_r"):])
		if err != nil {
			return "", 0, false
		}
		return base[:i], n, true
	}
	if strings.HasSuffix(base, "_report") {
		return strings.TrimSuffix(base, "_report"), 1, true
	}
	return "", 0, false
}

func findReportRevisions(root, sessionID string) ([]string, error) {
	type revPath struct {
		rev  int
		path string
	}
	var found []revPath
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		sid, rev, ok := parseReportName(d.Name())
		if ok && sid == sessionID {
			found = append(found, revPath{rev: rev, path: path})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk reports: %w", err)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].rev < found[j].rev })
	paths := make([]string, len(found))
	for i, fp := range found {
		paths[i] = fp.path
	}
	return paths, nil
}

func findFile(root, name string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if d.Name() == name {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", root, err)
	}
	if found == "" {
		return "", ErrNotFound
	}
	return found, nil
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
