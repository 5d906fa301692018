// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tokencache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type fileContent struct {
	Sessions map[string]Entry `json:"sessions"`
}

// File keeps all sessions in one JSON document with 0600 permissions.
type File struct {
	Path string

	mu sync.Mutex
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Get(key string) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	entry, ok := content.Sessions[key]
	return entry, ok, nil
}

func (f *File) Set(key string, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, err := f.load()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		content = &fileContent{Sessions: map[string]Entry{}}
	}
	content.Sessions[key] = entry
	return f.save(content)
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if _, ok := content.Sessions[key]; !ok {
		return nil
	}
	delete(content.Sessions, key)
	return f.save(content)
}

func (f *File) load() (*fileContent, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var content fileContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if content.Sessions == nil {
		content.Sessions = map[string]Entry{}
	}
	return &content, nil
}

func (f *File) save(content *fileContent) error {
	if f.Path == "" {
		return errors.New("token cache path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	raw, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	return writeAtomic(f.Path, raw)
}

// writeAtomic replaces path through a temporary file in the same directory so
// readers never see a partial document. CreateTemp makes the file 0600.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary token file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync token cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace token cache: %w", err)
	}
	return nil
}
