package service

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/joeblew999/plat-webgis/internal/layer"
)

func TestCheckExt(t *testing.T) {
	for name, want := range map[string]string{
		"a.geojson":  ".geojson",
		"a.GeoJSON":  ".geojson",
		"b.json":     ".json",
		"c.tar.JSON": ".json",
	} {
		got, err := CheckExt(name)
		if err != nil || got != want {
			t.Fatalf("CheckExt(%q) = %q, %v; want %q", name, got, err, want)
		}
	}
	for _, name := range []string{"a.shp", "a.kml", "geojson", "a.geojson.zip", ""} {
		if _, err := CheckExt(name); !errors.Is(err, layer.ErrUnsupportedFileType) {
			t.Fatalf("CheckExt(%q) err=%v, want ErrUnsupportedFileType", name, err)
		}
	}
}

func TestFileStoreSaveReadRemove(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "uploads"))

	filePath, err := fs.Save(".geojson", []byte(`{"type":"FeatureCollection","features":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^/uploads/\d{13}-[0-9a-f]{12}\.geojson$`).MatchString(filePath) {
		t.Fatalf("unexpected filePath %q", filePath)
	}

	data, err := fs.Read(filePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"FeatureCollection","features":[]}` {
		t.Fatalf("read back %q", data)
	}

	other, err := fs.Save(".geojson", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if other == filePath {
		t.Fatal("two saves produced the same name")
	}

	u, err := fs.Usage()
	if err != nil {
		t.Fatal(err)
	}
	if u.Files != 2 || u.Bytes != int64(len(data)+2) {
		t.Fatalf("usage %+v", u)
	}

	if err := fs.Remove(filePath); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Read(filePath); !errors.Is(err, layer.ErrNotFound) {
		t.Fatalf("read after remove: err=%v", err)
	}
	if err := fs.Remove(filePath); err != nil {
		t.Fatalf("removing a missing file: %v", err)
	}
}

func TestFileStoreResolveRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	fs := NewFileStore(root)

	got, err := fs.Resolve("/uploads/1-abc.geojson")
	if err != nil || got != filepath.Join(root, "1-abc.geojson") {
		t.Fatalf("Resolve = %q, %v", got, err)
	}

	for _, p := range []string{
		"",
		"/uploads/",
		"/uploads/../secret.json",
		"/uploads/..",
		"/uploads/a/b.geojson",
		`/uploads/a\b.geojson`,
		"/etc/passwd",
		"uploads/a.geojson",
	} {
		if _, err := fs.Resolve(p); !errors.Is(err, layer.ErrStorage) {
			t.Errorf("Resolve(%q) err=%v, want ErrStorage", p, err)
		}
	}
}

func TestFileStoreListEmpty(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "missing"))
	files, err := fs.List()
	if err != nil || len(files) != 0 {
		t.Fatalf("List = %v, %v", files, err)
	}

	// Unrelated files are ignored.
	if err := os.MkdirAll(fs.Root(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fs.Root(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	files, err = fs.List()
	if err != nil || len(files) != 0 {
		t.Fatalf("List = %v, %v", files, err)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1 << 20, "1.0 MB"},
		{400 << 20, "400.0 MB"},
		{5 << 30, "5.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
