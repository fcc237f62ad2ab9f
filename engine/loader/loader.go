// Package loader reads OpenAPI 3 and Swagger 2 documents (YAML or JSON)
// from disk into spec.Documents for indexing.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/WessleyAI/specgraph/engine/spec"
)

// ErrNoDocuments is returned when a source yields no loadable document.
var ErrNoDocuments = errors.New("loader: no specification documents found")

// Extensions recognized when scanning a directory.
var Extensions = []string{".yaml", ".yml", ".json"}

// FileError records a file that could not be loaded.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("load %s: %v", e.Path, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }

// FileLoader loads documents from a file or a directory tree.
type FileLoader struct {
	logger *slog.Logger
}

// New creates a FileLoader. A nil logger uses slog.Default().
func New(logger *slog.Logger) *FileLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLoader{logger: logger}
}

// Load reads source. For a directory every recognized file below it is
// loaded in lexical order and named by its slash-separated relative path;
// a single file is named by its base name. Files that fail to parse are
// skipped and returned joined in err alongside the documents that loaded.
func (l *FileLoader) Load(ctx context.Context, source string) ([]spec.Document, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if !info.IsDir() {
		doc, err := l.loadFile(source, filepath.Base(source))
		if err != nil {
			return nil, err
		}
		return []spec.Document{doc}, nil
	}

	files, err := listFiles(source)
	if err != nil {
		return nil, fmt.Errorf("loader: scan %s: %w", source, err)
	}

	var (
		docs []spec.Document
		errs []error
	)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		doc, err := l.loadFile(filepath.Join(source, rel), filepath.ToSlash(rel))
		if err != nil {
			l.logger.Warn("skipping specification", "file", rel, "err", err)
			errs = append(errs, err)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 && len(errs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, source)
	}
	l.logger.Info("specifications loaded", "source", source, "documents", len(docs), "failed", len(errs))
	return docs, errors.Join(errs...)
}

func (l *FileLoader) loadFile(path, name string) (spec.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return spec.Document{}, &FileError{Path: name, Err: err}
	}
	doc, err := Parse(name, data)
	if err != nil {
		return spec.Document{}, &FileError{Path: name, Err: err}
	}
	return doc, nil
}

func listFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !recognized(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	sort.Strings(out)
	return out, err
}

func recognized(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// FileErrors unpacks the per-file failures joined by Load.
func FileErrors(err error) []*FileError {
	if err == nil {
		return nil
	}
	var out []*FileError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, FileErrors(e)...)
		}
		return out
	}
	var fe *FileError
	if errors.As(err, &fe) {
		out = append(out, fe)
	}
	return out
}
