package filesystemBackend

import (
	"context"
	"crypto/sha256"
	"dataset-registry/registry"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

var (
	_ registry.RetrieveBackend   = (*FilesystemBackend)(nil)
	_ registry.DatasetRegisterer = (*FilesystemBackend)(nil)
	_ registry.DatasetDeleter    = (*FilesystemBackend)(nil)
)

// Names of the files kept per dataset.
const (
	readmeFile      = "README.yml"
	manifestFile    = "manifest.json"
	annotationsFile = "annotations.json"
	tagsFile        = "tags.json"
	uriFile         = "uri"
)

// FilesystemBackend implements the retrieve interface using simple
// filesystem storage. Every dataset gets a directory named after the
// SHA256 hash of its URI.
type FilesystemBackend struct {
	baseDir string
}

// New creates a new filesystem-based backend
func New(baseDir string) (*FilesystemBackend, error) {
	if !filepath.IsAbs(baseDir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		baseDir = filepath.Join(wd, baseDir)
	}

	//nolint:gosec,mnd // Directory permissions 0755 are intentional
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FilesystemBackend{baseDir: baseDir}, nil
}

// Dir returns the storage directory
func (b *FilesystemBackend) Dir() string {
	return b.baseDir
}

// RegisterDataset writes the descriptive metadata of info, replacing any
// earlier files of the same URI.
func (b *FilesystemBackend) RegisterDataset(_ context.Context, info *registry.DatasetInfo) error {
	if info == nil || info.URI == "" {
		return &registry.ValidationError{Problems: []string{"uri is required"}}
	}

	files := map[string]any{
		manifestFile:    orEmpty(info.Manifest),
		annotationsFile: orEmpty(info.Annotations),
		tagsFile:        orEmptyList(info.Tags),
	}
	contents := map[string][]byte{
		readmeFile: []byte(info.Readme),
		uriFile:    []byte(info.URI),
	}
	for name, value := range files {
		data, err := json.Marshal(value)
		if err != nil {
			return &registry.ValidationError{Problems: []string{fmt.Sprintf("%s: %v", name, err)}}
		}
		contents[name] = data
	}

	dir := b.datasetDir(info.URI)
	//nolint:gosec,mnd // Directory permissions 0755 are intentional
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	for name, data := range contents {
		if err := writeFile(dir, name, data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	log.Debug().Str("uri", info.URI).Str("dir", dir).Msg("Stored dataset metadata")

	return nil
}

// writeFile replaces dir/name through a rename so readers see either the old
// or the new content, never a partial write.
func writeFile(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	//nolint:mnd // filemode constant
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

// DeleteDataset removes the directory of uri. Unknown URIs are ignored.
func (b *FilesystemBackend) DeleteDataset(_ context.Context, uri string) error {
	if err := os.RemoveAll(b.datasetDir(uri)); err != nil {
		return fmt.Errorf("failed to remove dataset metadata: %w", err)
	}

	return nil
}

func (b *FilesystemBackend) GetReadme(_ context.Context, uri string) (string, error) {
	data, err := b.read(uri, readmeFile)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (b *FilesystemBackend) GetManifest(_ context.Context, uri string) (map[string]any, error) {
	manifest := map[string]any{}
	if err := b.decode(uri, manifestFile, &manifest); err != nil {
		return nil, err
	}

	return manifest, nil
}

func (b *FilesystemBackend) GetAnnotations(_ context.Context, uri string) (map[string]any, error) {
	annotations := map[string]any{}
	if err := b.decode(uri, annotationsFile, &annotations); err != nil {
		return nil, err
	}

	return annotations, nil
}

func (b *FilesystemBackend) GetTags(_ context.Context, uri string) ([]string, error) {
	tags := []string{}
	if err := b.decode(uri, tagsFile, &tags); err != nil {
		return nil, err
	}

	return tags, nil
}

func (b *FilesystemBackend) read(uri, name string) ([]byte, error) {
	//nolint:gosec // G304: File path is constructed internally from a hash
	data, err := os.ReadFile(filepath.Join(b.datasetDir(uri), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &registry.UnknownURIError{URI: uri}
		}

		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return data, nil
}

func (b *FilesystemBackend) decode(uri, name string, target any) error {
	data, err := b.read(uri, name)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}

	return nil
}

// datasetDir returns the directory path for a dataset URI
func (b *FilesystemBackend) datasetDir(uri string) string {
	hash := sha256.Sum256([]byte(uri))

	return filepath.Join(b.baseDir, hex.EncodeToString(hash[:]))
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

func orEmptyList(l []string) []string {
	if l == nil {
		return []string{}
	}

	return l
}
