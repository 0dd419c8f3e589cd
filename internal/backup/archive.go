// Package backup dumps the POS tables to compressed CSV archives and
// restores them.
//
// An archive is a directory named pos_<UTC timestamp> under the backup root
// holding one <table>.csv.gz per table and a manifest.json. Archives are
// written to a .partial directory and renamed when complete, so List never
// sees a half-written backup.
package backup

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const (
	namePrefix   = "pos_"
	nameLayout   = "20060102T150405Z"
	partial      = ".partial"
	manifestFile = "manifest.json"

	// DefaultKeep is how many archives Prune keeps.
	DefaultKeep = 30
)

// Tables lists the dumped tables, parents before children.
var Tables = []string{"products", "sales", "sale_lines", "invoice_sequences", "sale_events"}

// identityTables have a generated id whose sequence follows a restore.
var identityTables = []string{"products", "sales", "sale_lines"}

// ErrNotFound is returned for an unknown archive name.
var ErrNotFound = errors.New("backup not found")

// TableInfo describes one dumped table.
type TableInfo struct {
	Name string `json:"name"`
	File string `json:"file"`
	Rows int64  `json:"rows"`
}

// Manifest describes an archive.
type Manifest struct {
	Name      string      `json:"name"`
	CreatedAt time.Time   `json:"created_at"`
	Snapshot  string      `json:"snapshot,omitempty"`
	Tables    []TableInfo `json:"tables"`
}

// Table returns the entry for name.
func (m *Manifest) Table(name string) (TableInfo, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableInfo{}, false
}

// Entry is a complete archive found on disk.
type Entry struct {
	Name      string
	Path      string
	CreatedAt time.Time
	Size      int64
}

// Name returns the archive name for a backup taken at t.
func Name(t time.Time) string {
	return namePrefix + t.UTC().Format(nameLayout)
}

func parseName(name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, namePrefix)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(nameLayout, rest)
	return t, err == nil
}

func fileName(table string) string {
	return table + ".csv.gz"
}

// List returns the complete archives under root, newest first.
func List(root string) ([]Entry, error) {
	dirs, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read backup dir")
	}

	var out []Entry
	for _, d := range dirs {
		created, ok := parseName(d.Name())
		if !d.IsDir() || !ok {
			continue
		}
		path := filepath.Join(root, d.Name())
		size, err := dirSize(path)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: d.Name(), Path: path, CreatedAt: created, Size: size})
	}
	slices.SortFunc(out, func(a, b Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Resolve returns the directory of the named archive.
func Resolve(root, name string) (string, error) {
	if _, ok := parseName(name); !ok || strings.ContainsAny(name, `/\`) {
		return "", errors.Wrapf(ErrNotFound, "%q", name)
	}
	path := filepath.Join(root, name)
	if _, err := os.Stat(filepath.Join(path, manifestFile)); err != nil {
		return "", errors.Wrapf(ErrNotFound, "%q", name)
	}
	return path, nil
}

// Prune removes all but the newest keep archives and returns the removed
// names.
func Prune(root string, keep int) ([]string, error) {
	entries, err := List(root)
	if err != nil {
		return nil, err
	}
	if keep < 1 {
		keep = 1
	}
	if len(entries) <= keep {
		return nil, nil
	}

	var removed []string
	for _, e := range entries[keep:] {
		if err := os.RemoveAll(e.Path); err != nil {
			return removed, errors.Wrapf(err, "remove %s", e.Name)
		}
		removed = append(removed, e.Name)
	}
	return removed, nil
}

// ReadManifest loads the manifest of the archive in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	return &m, nil
}

func writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o640); err != nil {
		return errors.Wrap(err, "write manifest")
	}
	return nil
}

func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "size of %s", dir)
	}
	return size, nil
}
