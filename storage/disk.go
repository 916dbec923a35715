package storage

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time checks that DiskStore implements the store interfaces.
var (
	_ PersistentStore = (*DiskStore)(nil)
	_ Lister          = (*DiskStore)(nil)
)

const diskExt = ".entry"

// DiskStore keeps one file per key under a root directory.
// A file holds a 4-byte key length, the key, then the data.
type DiskStore struct {
	root string
}

// NewDiskStore creates a store rooted at dir, creating it if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &DiskStore{root: dir}, nil
}

// Store writes data atomically via a temp file and rename.
func (ds *DiskStore) Store(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := make([]byte, 4+len(key)+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(key)))
	copy(buf[4:], key)
	copy(buf[4+len(key):], data)

	tmp, err := os.CreateTemp(ds.root, "tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrPersistentStore, err)
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing entry: %v", ErrPersistentStore, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: closing entry: %v", ErrPersistentStore, err)
	}
	if err := os.Rename(tmp.Name(), ds.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: renaming entry: %v", ErrPersistentStore, err)
	}
	return nil
}

// Retrieve reads the data stored under key.
func (ds *DiskStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(ds.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: reading entry: %v", ErrPersistentStore, err)
	}
	stored, data, err := decodeDiskEntry(raw)
	if err != nil {
		return nil, err
	}
	if stored != key {
		// sha1 collision; treat as absent.
		return nil, ErrNotFound
	}
	return data, nil
}

// Remove deletes the file for key.
func (ds *DiskStore) Remove(ctx context.Context, key string) error {
	err := os.Remove(ds.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing entry: %v", ErrPersistentStore, err)
	}
	return nil
}

// Clear removes every entry file under the root.
func (ds *DiskStore) Clear(ctx context.Context) error {
	names, err := ds.entryFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(ds.root, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: clearing entry: %v", ErrPersistentStore, err)
		}
	}
	return nil
}

// Keys reads back the key stored in each entry file.
func (ds *DiskStore) Keys(ctx context.Context) ([]string, error) {
	names, err := ds.entryFiles()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(filepath.Join(ds.root, name))
		if err != nil {
			continue
		}
		key, _, err := decodeDiskEntry(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Close is a no-op.
func (ds *DiskStore) Close() error {
	return nil
}

func (ds *DiskStore) entryFiles() ([]string, error) {
	entries, err := os.ReadDir(ds.root)
	if err != nil {
		return nil, fmt.Errorf("%w: listing root: %v", ErrPersistentStore, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), diskExt) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (ds *DiskStore) path(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(ds.root, hex.EncodeToString(sum[:])+diskExt)
}

func decodeDiskEntry(raw []byte) (string, []byte, error) {
	if len(raw) < 4 {
		return "", nil, fmt.Errorf("%w: truncated entry", ErrPersistentStore)
	}
	n := int(binary.BigEndian.Uint32(raw))
	if len(raw) < 4+n {
		return "", nil, fmt.Errorf("%w: truncated entry key", ErrPersistentStore)
	}
	return string(raw[4 : 4+n]), raw[4+n:], nil
}
