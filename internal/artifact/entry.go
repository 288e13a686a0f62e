package artifact

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyluth/patchbay/internal/apperr"
)

// Layout of an entry directory.
const (
	SourceDir       = "sourcecode"
	SourceFile      = "user_code.dsp"
	DiagnosticsFile = "errors.log"
	MetadataFile    = "metadata.json"
	CompiledFile    = "generated.cpp"
	DiagramDir      = "svg"
)

// SourceExt is the required extension of submitted filenames.
const SourceExt = ".dsp"

// Metadata is persisted as metadata.json in every entry.
type Metadata struct {
	Hash      string `json:"sha1"`
	Filename  string `json:"filename"`
	CreatedAt int64  `json:"compilation_time"`
}

// Entry is a handle on one stored artifact.
type Entry struct {
	Metadata
	dir string
}

// Dir returns the entry's directory.
func (e *Entry) Dir() string {
	return e.dir
}

// HashSource returns the content identity of source: lowercase hex SHA-1
// of its UTF-8 bytes.
func HashSource(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// ValidateFilename checks a submitted source filename.
func ValidateFilename(name string) error {
	if name == "" {
		return apperr.Invalid("filename is required")
	}
	if !strings.HasSuffix(name, SourceExt) || len(name) == len(SourceExt) {
		return apperr.Invalid("filename must end with %s: %q", SourceExt, name)
	}
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return apperr.Invalid("filename must not contain a path: %q", name)
	}
	return nil
}

// Path resolves a relative name inside the entry. Names that are absolute
// or climb out of the entry are rejected.
func (e *Entry) Path(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", apperr.Invalid("invalid file path: %q", name)
	}
	return filepath.Join(e.dir, filepath.Clean(name)), nil
}

// ReadFile returns the content of a file inside the entry.
func (e *Entry) ReadFile(name string) ([]byte, error) {
	path, err := e.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("file %s not found in session %s", name, e.Hash)
		}
		return nil, apperr.Internal(err, "failed to read %s", name)
	}
	return data, nil
}

// WriteFile replaces a file inside the entry, creating parent directories.
func (e *Entry) WriteFile(name string, data []byte) error {
	path, err := e.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Internal(err, "failed to create directory for %s", name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.Internal(err, "failed to write %s", name)
	}
	return nil
}

// Source returns the submitted source text.
func (e *Entry) Source() ([]byte, error) {
	return e.ReadFile(SourceFile)
}

// Diagnostics returns the compiler log, or "" if none was written.
func (e *Entry) Diagnostics() string {
	data, err := os.ReadFile(filepath.Join(e.dir, DiagnosticsFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// HasOutput reports whether compiled output exists.
func (e *Entry) HasOutput() bool {
	_, err := os.Stat(filepath.Join(e.dir, CompiledFile))
	return err == nil
}

// Analysed reports whether the compiler ran to completion for this entry,
// successfully or not.
func (e *Entry) Analysed() bool {
	return e.HasOutput() || strings.TrimSpace(e.Diagnostics()) != ""
}

// Diagrams lists the SVG diagrams of the entry, sorted by name.
func (e *Entry) Diagrams() ([]string, error) {
	items, err := os.ReadDir(filepath.Join(e.dir, DiagramDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, apperr.Internal(err, "failed to list diagrams")
	}
	names := []string{}
	for _, item := range items {
		if !item.IsDir() && strings.HasSuffix(item.Name(), ".svg") {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Diagram returns one SVG diagram by file name.
func (e *Entry) Diagram(name string) ([]byte, error) {
	if filepath.Base(name) != name || !strings.HasSuffix(name, ".svg") {
		return nil, apperr.Invalid("invalid diagram name: %q", name)
	}
	return e.ReadFile(filepath.Join(DiagramDir, name))
}

// writeSkeleton lays out a fresh entry directory.
func writeSkeleton(dir string, meta Metadata, source string) error {
	e := &Entry{Metadata: meta, dir: dir}
	files := []struct {
		name string
		data []byte
	}{
		{filepath.Join(SourceDir, meta.Filename), []byte(source)},
		{SourceFile, []byte(source)},
		{DiagnosticsFile, nil},
	}
	for _, f := range files {
		if err := e.WriteFile(f.name, f.data); err != nil {
			return err
		}
	}
	if err := writeMetadata(dir, meta); err != nil {
		return err
	}
	return nil
}

func writeMetadata(dir string, meta Metadata) error {
	data, err := marshalMetadata(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644); err != nil {
		return apperr.Internal(err, "failed to write metadata")
	}
	return nil
}
