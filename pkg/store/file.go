// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
)

// File is a Store backed by a single CBOR-encoded map on disk. Every write
// rewrites the file through a temporary file, fsync and rename.
type File struct {
	path string

	mu     sync.Mutex
	values map[string][]byte
	closed bool
}

// OpenFile loads the store at path. A missing file yields an empty store.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, values: make(map[string][]byte)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		glog.V(1).Infof("store: %s does not exist, starting empty", path)
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := cbor.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", path, err)
	}
	if f.values == nil {
		f.values = make(map[string][]byte)
	}
	return f, nil
}

// Path returns the backing file path
func (f *File) Path() string {
	return f.path
}

func (f *File) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *File) set(key string, v []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	prev, had := f.values[key]
	f.values[key] = v
	if err := f.flush(); err != nil {
		if had {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

// flush writes the whole map. Caller holds mu.
func (f *File) flush() error {
	data, err := cbor.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}

	// Directory fsync makes the rename itself durable
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// U8 implements Store
func (f *File) U8(key string, def uint8) uint8 {
	if v, ok := f.get(key); ok && len(v) == 1 {
		return v[0]
	}
	return def
}

// SetU8 implements Store
func (f *File) SetU8(key string, v uint8) error {
	return f.set(key, []byte{v})
}

// String implements Store
func (f *File) String(key string, def string) string {
	if v, ok := f.get(key); ok {
		return string(v)
	}
	return def
}

// SetString implements Store
func (f *File) SetString(key string, v string) error {
	return f.set(key, []byte(v))
}

// Has implements Store
func (f *File) Has(key string) bool {
	_, ok := f.get(key)
	return ok
}

// Keys returns every stored key and its raw value
func (f *File) Keys() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.values))
	for k, v := range f.values {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Close implements Store
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
