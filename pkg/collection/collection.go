// Package collection provides a filesystem-backed collection store: one
// directory per artifact type, one file per artifact.
package collection

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
	"github.com/miethe/skillmeat-sub006/pkg/importer"
)

// Store keeps artifacts under root/{plural-type}/{name}.
type Store struct {
	root string
}

// DefaultRoot is the collection location when none is configured.
func DefaultRoot() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".skillmeat", "collection"), nil
}

func New(root string) *Store {
	return &Store{root: root}
}

// Snapshot walks the two-level collection layout and reports what exists.
func (s *Store) Snapshot(ctx context.Context) ([]importer.CollectionArtifact, error) {
	var out []importer.CollectionArtifact
	for _, typ := range artifact.AllTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := filepath.Join(s.root, artifact.Plural(typ))
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			name := e.Name()
			// Artifacts may be single files; the stored name drops the
			// extension so conflicts are detected by logical name.
			if !e.IsDir() {
				name = trimExt(name)
			}
			out = append(out, importer.CollectionArtifact{
				Type: typ,
				Name: name,
				Path: artifact.Plural(typ) + "/" + name,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// WriteArtifact writes content atomically (temp file, then rename) and
// returns a fresh artifact ref.
func (s *Store) WriteArtifact(ctx context.Context, typ artifact.Type, name, path string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, artifact.Plural(typ))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, name+extFor(typ))

	tmp, err := os.CreateTemp(dir, "."+name+"-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return uuid.NewString(), nil
}

func extFor(typ artifact.Type) string {
	if typ == artifact.TypeToolServer || typ == artifact.TypeHook {
		return ".json"
	}
	return ".md"
}

func trimExt(name string) string {
	if ext := filepath.Ext(name); ext == ".md" || ext == ".json" {
		return name[:len(name)-len(ext)]
	}
	return name
}
