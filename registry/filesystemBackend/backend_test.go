package filesystemBackend

import (
	"context"
	"dataset-registry/registry"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestFilesystemBackend(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	backend, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	info := &registry.DatasetInfo{
		UUID:            "af6727bf-29c7-43dd-b42f-a5d7ede28337",
		BaseURI:         "s3://snow-white",
		URI:             "s3://snow-white/af6727bf-29c7-43dd-b42f-a5d7ede28337",
		Name:            "apples",
		Type:            registry.DatasetType,
		Readme:          "---\ndescription: apples\n",
		Manifest:        map[string]any{"hash_function": "md5sum_hexdigest", "items": map[string]any{}},
		CreatorUsername: "grumpy",
		FrozenAt:        registry.NewFlexTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		Annotations:     map[string]any{"color": "red"},
		Tags:            []string{"good", "fruit"},
	}

	// Test RegisterDataset - should write one directory per URI
	t.Run("RegisterDataset", func(t *testing.T) {
		if err := backend.RegisterDataset(ctx, info); err != nil {
			t.Fatalf("Failed to register dataset: %v", err)
		}

		for _, name := range []string{readmeFile, manifestFile, annotationsFile, tagsFile, uriFile} {
			path := filepath.Join(backend.datasetDir(info.URI), name)
			if _, err := os.Stat(path); err != nil {
				t.Errorf("Expected %s to exist: %v", path, err)
			}
		}
	})

	// Test getters - should return what was registered
	t.Run("Getters", func(t *testing.T) {
		readme, err := backend.GetReadme(ctx, info.URI)
		if err != nil || readme != info.Readme {
			t.Errorf("Readme mismatch: %q, %v", readme, err)
		}

		manifest, err := backend.GetManifest(ctx, info.URI)
		if err != nil || !reflect.DeepEqual(manifest, info.Manifest) {
			t.Errorf("Manifest mismatch: %v, %v", manifest, err)
		}

		annotations, err := backend.GetAnnotations(ctx, info.URI)
		if err != nil || !reflect.DeepEqual(annotations, info.Annotations) {
			t.Errorf("Annotations mismatch: %v, %v", annotations, err)
		}

		tags, err := backend.GetTags(ctx, info.URI)
		if err != nil || !reflect.DeepEqual(tags, info.Tags) {
			t.Errorf("Tags mismatch: %v, %v", tags, err)
		}
	})

	// Test re-registration - should replace the stored metadata
	t.Run("Replace", func(t *testing.T) {
		replacement := *info
		replacement.Tags = nil
		replacement.Readme = ""
		if err := backend.RegisterDataset(ctx, &replacement); err != nil {
			t.Fatalf("Failed to re-register dataset: %v", err)
		}

		tags, err := backend.GetTags(ctx, info.URI)
		if err != nil || len(tags) != 0 || tags == nil {
			t.Errorf("Expected an empty tag list, got %v, %v", tags, err)
		}

		readme, err := backend.GetReadme(ctx, info.URI)
		if err != nil || readme != "" {
			t.Errorf("Expected an empty readme, got %q, %v", readme, err)
		}
	})

	// Test an unknown URI - should be reported as such
	t.Run("UnknownURI", func(t *testing.T) {
		_, err := backend.GetManifest(ctx, "s3://snow-white/missing")
		if !registry.IsUnknownURI(err) {
			t.Errorf("Expected unknown URI error, got %v", err)
		}
	})

	// Test DeleteDataset - should remove the directory and tolerate repeats
	t.Run("DeleteDataset", func(t *testing.T) {
		if err := backend.DeleteDataset(ctx, info.URI); err != nil {
			t.Fatalf("Failed to delete dataset: %v", err)
		}
		if err := backend.DeleteDataset(ctx, info.URI); err != nil {
			t.Errorf("Deleting twice should succeed: %v", err)
		}

		if _, err := os.Stat(backend.datasetDir(info.URI)); !os.IsNotExist(err) {
			t.Errorf("Dataset directory still exists: %v", err)
		}

		_, err := backend.GetReadme(ctx, info.URI)
		if !registry.IsUnknownURI(err) {
			t.Errorf("Expected unknown URI error after delete, got %v", err)
		}
	})

	// Test an empty payload - should be rejected
	t.Run("InvalidPayload", func(t *testing.T) {
		if err := backend.RegisterDataset(ctx, &registry.DatasetInfo{}); err == nil {
			t.Error("Expected error for a payload without URI")
		}
	})
}

func TestNewRelativeDir(t *testing.T) {
	t.Chdir(t.TempDir())

	backend, err := New("metadata")
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	if !filepath.IsAbs(backend.Dir()) {
		t.Errorf("Expected an absolute directory, got %s", backend.Dir())
	}
	if _, err := os.Stat(backend.Dir()); err != nil {
		t.Errorf("Directory was not created: %v", err)
	}
}

func TestRegisterDatasetWhileReading(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	backend, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	info := &registry.DatasetInfo{
		URI:      "s3://snow-white/af6727bf-29c7-43dd-b42f-a5d7ede28337",
		Manifest: map[string]any{"items": map[string]any{"a": map[string]any{"size_in_bytes": 1}}},
	}
	if err := backend.RegisterDataset(ctx, info); err != nil {
		t.Fatalf("Failed to register dataset: %v", err)
	}

	stop := make(chan struct{})
	failures := make(chan error, 1)
	go func() {
		defer close(failures)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := backend.GetManifest(ctx, info.URI); err != nil {
				failures <- err

				return
			}
		}
	}()

	// Test re-registration under concurrent reads - should never expose a partial file
	for range 50 {
		if err := backend.RegisterDataset(ctx, info); err != nil {
			t.Fatalf("Failed to re-register dataset: %v", err)
		}
	}
	close(stop)

	if err := <-failures; err != nil {
		t.Errorf("Read during re-registration failed: %v", err)
	}

	entries, err := os.ReadDir(backend.datasetDir(info.URI))
	if err != nil {
		t.Fatalf("Failed to list dataset directory: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("Expected 5 files and no leftovers, got %d", len(entries))
	}
}
