package fsutil

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"
	"gopkg.in/yaml.v3"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
)

// EnsureDir creates the directory tree if it does not exist
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to create directory %s", path))
	}
	return nil
}

// Exists reports whether the path exists at all
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether the path exists and is a directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ReadYAML decodes the YAML document at path into out
func ReadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to read %s", path))
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to parse yaml %s", path))
	}
	return nil
}

// WriteYAML encodes in as YAML and writes it atomically to path
func WriteYAML(path string, in interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to encode yaml for %s", path))
	}
	return writeAtomic(path, data)
}

// ReadJSON decodes the JSON document at path into out
func ReadJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to read %s", path))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to parse json %s", path))
	}
	return nil
}

// WriteJSON encodes in as indented JSON and writes it atomically to path
func WriteJSON(path string, in interface{}) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to encode json for %s", path))
	}
	return writeAtomic(path, data)
}

// writeAtomic writes data to a temp file in the target directory and
// renames it into place so readers never observe a partial document
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to create directory %s", dir))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to create temp file in %s", dir))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errdefs.FileSystem(err, fmt.Sprintf("failed to write %s", path))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errdefs.FileSystem(err, fmt.Sprintf("failed to close temp file for %s", path))
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return errdefs.FileSystem(err, fmt.Sprintf("failed to chmod temp file for %s", path))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errdefs.FileSystem(err, fmt.Sprintf("failed to finalize %s", path))
	}
	return nil
}

// CopyDir copies src into dst recursively. Existing files in dst are
// overwritten; files present only in dst are left alone.
func CopyDir(src, dst string) error {
	if err := cp.Copy(src, dst); err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to copy %s to %s", src, dst))
	}
	return nil
}

// RemoveAll deletes the path recursively; a missing path is not an error
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to remove %s", path))
	}
	return nil
}

// ListDir returns the names of regular files directly under path,
// optionally filtered by extension (e.g. ".yaml"). A missing directory
// yields an empty list.
func ListDir(path, ext string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.FileSystem(err, fmt.Sprintf("failed to list %s", path))
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext != "" && !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// ListSubdirs returns the names of directories directly under path.
// A missing directory yields an empty list.
func ListSubdirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.FileSystem(err, fmt.Sprintf("failed to list %s", path))
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// DirSize sums the sizes of all regular files under path recursively
func DirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, errdefs.FileSystem(err, fmt.Sprintf("failed to measure %s", path))
	}
	return total, nil
}

// FileSize returns the size of a single file
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errdefs.FileSystem(err, fmt.Sprintf("failed to stat %s", path))
	}
	return info.Size(), nil
}
