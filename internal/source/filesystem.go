package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Filesystem serves every file below a root folder whose path matches an
// optional case-insensitive pattern. Document ids are slash-separated
// paths relative to the root.
type Filesystem struct {
	root   string
	filter *regexp.Regexp
}

// NewFilesystem returns a source for folder. An empty pattern matches every file.
func NewFilesystem(folder, pattern string) (*Filesystem, error) {
	f := &Filesystem{root: folder}
	if pattern != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling source filter: %w", err)
		}
		f.filter = re
	}
	return f, nil
}

func (f *Filesystem) Open(context.Context) error {
	info, err := os.Stat(f.root)
	if err != nil {
		return &UnavailableError{Location: f.root, Err: err}
	}
	if !info.IsDir() {
		return &UnavailableError{Location: f.root, Err: errors.New("not a directory")}
	}
	return nil
}

func (f *Filesystem) DocumentMetadata(ctx context.Context) ([]DocumentInfo, error) {
	var docs []DocumentInfo
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || (f.filter != nil && !f.filter.MatchString(path)) {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		modified := info.ModTime()
		docs = append(docs, DocumentInfo{
			ID:             filepath.ToSlash(rel),
			Provider:       DefaultProvider,
			GenerationDate: &modified,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", f.root, err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// PriorityItems returns every document for DefaultProvider and none for
// any other provider.
func (f *Filesystem) PriorityItems(ctx context.Context, provider string) ([]string, error) {
	if provider != DefaultProvider {
		return nil, nil
	}
	docs, err := f.DocumentMetadata(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (f *Filesystem) Content(ctx context.Context, ids []string) ([]Content, error) {
	out := make([]Content, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(id)))
		if err != nil {
			return nil, fmt.Errorf("reading document %s: %w", id, err)
		}
		out = append(out, Content{ID: id, Provider: DefaultProvider, XML: string(data)})
	}
	return out, nil
}

func (f *Filesystem) Close() error {
	return nil
}
