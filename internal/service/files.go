package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-webgis/internal/layer"
)

// URLPrefix is the prefix of every stored filePath.
const URLPrefix = "/uploads/"

// allowedExt lists the accepted upload extensions.
var allowedExt = map[string]bool{
	".geojson": true,
	".json":    true,
}

// StoredFile describes one file in the upload directory.
type StoredFile struct {
	Name     string `json:"name" doc:"Generated file name" example:"1717171717171-3f2a9c1d7e0b.geojson"`
	FilePath string `json:"filePath" doc:"Public path" example:"/uploads/1717171717171-3f2a9c1d7e0b.geojson"`
	Bytes    int64  `json:"bytes" doc:"Size in bytes"`
	Size     string `json:"size" doc:"Human-readable size" example:"1.2 MB"`
}

// Usage summarises the upload directory.
type Usage struct {
	Files int    `json:"files" doc:"Number of stored files"`
	Bytes int64  `json:"bytes" doc:"Total size in bytes"`
	Size  string `json:"size" doc:"Human-readable total size" example:"12.5 MB"`
}

// FileStore keeps uploaded GeoJSON files under a single directory.
type FileStore struct {
	root string
	now  func() time.Time
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir, now: time.Now}
}

// Root returns the upload directory.
func (s *FileStore) Root() string {
	return s.root
}

// CheckExt returns the lower-cased extension of name, or
// ErrUnsupportedFileType.
func CheckExt(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExt[ext] {
		return "", fmt.Errorf("%w: only .geojson and .json files are allowed", layer.ErrUnsupportedFileType)
	}
	return ext, nil
}

// Save writes data under a fresh generated name with the given extension
// and returns its public filePath.
func (s *FileStore) Save(ext string, data []byte) (string, error) {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return "", fmt.Errorf("%w: create upload directory: %v", layer.ErrStorage, err)
	}

	for range 3 {
		name := s.generateName(ext)
		f, err := os.OpenFile(filepath.Join(s.root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: create %s: %v", layer.ErrStorage, name, err)
		}

		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("%w: write %s: %v", layer.ErrStorage, name, err)
		}
		return URLPrefix + name, nil
	}
	return "", fmt.Errorf("%w: could not allocate a unique file name", layer.ErrStorage)
}

// Resolve maps a public filePath to a path on disk. Paths that do not
// name a plain file directly inside the root are rejected.
func (s *FileStore) Resolve(filePath string) (string, error) {
	name, ok := strings.CutPrefix(filePath, URLPrefix)
	if !ok || name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: invalid file path %q", layer.ErrStorage, filePath)
	}
	return filepath.Join(s.root, name), nil
}

// Read returns the file content. A missing file is ErrNotFound.
func (s *FileStore) Read(filePath string) ([]byte, error) {
	path, err := s.Resolve(filePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filePath, layer.ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", layer.ErrStorage, filePath, err)
	}
	return data, nil
}

// Remove deletes the file. Removing a missing file is not an error.
func (s *FileStore) Remove(filePath string) error {
	path, err := s.Resolve(filePath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", layer.ErrStorage, filePath, err)
	}
	return nil
}

// List returns the stored files.
func (s *FileStore) List() ([]StoredFile, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []StoredFile{}, nil
		}
		return nil, err
	}

	files := []StoredFile{}
	for _, entry := range entries {
		if entry.IsDir() || !allowedExt[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, StoredFile{
			Name:     entry.Name(),
			FilePath: URLPrefix + entry.Name(),
			Bytes:    info.Size(),
			Size:     FormatSize(info.Size()),
		})
	}
	return files, nil
}

// Usage totals the stored files.
func (s *FileStore) Usage() (Usage, error) {
	files, err := s.List()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{Files: len(files)}
	for _, f := range files {
		u.Bytes += f.Bytes
	}
	u.Size = FormatSize(u.Bytes)
	return u, nil
}

// generateName returns "<unix-millis>-<random><ext>".
func (s *FileStore) generateName(ext string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), random, ext)
}

// FormatSize returns a human-readable size using 1024-based units.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
