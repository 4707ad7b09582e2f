package keystore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// loadJSON decodes path into out. The very first access to any keystore
// file happens before anything was ever stored, so a missing file reads as
// an empty map rather than an error.
func loadJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// storeJSON replaces path with the encoded value. Store operations promise
// durability to their callers, so the bytes are synced to disk before the
// rename publishes them; a crash mid-write leaves the previous file intact.
func storeJSON(path string, v any, mode os.FileMode) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, raw, mode)
}

func atomicWrite(path string, raw []byte, mode os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
