// Package artifacts persists trained model files so that readers always observe either
// the previous or the new version of a file.
package artifacts

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/models"
)

var log = internal.GetLogger()

const filePerm = 0o644

// WriteFileAtomic writes data to a temp file in the target directory, syncs it and renames
// it over path. Errors are returned as models.PersistenceError.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.NewPersistenceError(path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return models.NewPersistenceError(path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return models.NewPersistenceError(path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return models.NewPersistenceError(path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return models.NewPersistenceError(path, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return models.NewPersistenceError(path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return models.NewPersistenceError(path, err)
	}

	log.Debugf("wrote %s (%s)", path, humanize.Bytes(uint64(len(data))))
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return models.NewPersistenceError(path, fmt.Errorf("marshal json: %w", err))
	}
	return WriteFileAtomic(path, data)
}

// WriteGobAtomic gob-encodes v and writes it atomically.
func WriteGobAtomic(path string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return models.NewPersistenceError(path, fmt.Errorf("encode gob: %w", err))
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// ReadJSON decodes the JSON file at path into v. A missing file is reported as
// models.UnavailableError.
func ReadJSON(path string, v any) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ReadGob decodes the gob file at path into v. A missing file is reported as
// models.UnavailableError.
func ReadGob(path string, v any) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewUnavailableError(filepath.Base(path), "artifact not found")
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
