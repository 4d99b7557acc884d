package shell

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var librariesBucket = []byte("libraries")

var (
	// ErrLibraryNotFound is returned when no library has the given name.
	ErrLibraryNotFound = errors.New("library not found")
	// ErrLibraryExists is returned when creating or renaming onto a taken name.
	ErrLibraryExists = errors.New("library already exists")
)

// Library is a named set of native folders shown as one merged folder.
// Folders[0] is where new items are created.
type Library struct {
	Name    string    `json:"name"`
	Folders []string  `json:"folders"`
	Created time.Time `json:"created"`
}

// Libraries persists library definitions in a bbolt database.
// Names are case-insensitive.
type Libraries struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenLibraries opens (creating if needed) the database at path.
func OpenLibraries(path string) (*Libraries, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open library database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(librariesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create libraries bucket: %w", err)
	}
	return &Libraries{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Libraries) Close() error {
	return l.db.Close()
}

func libraryKey(name string) []byte {
	return []byte(strings.ToLower(name))
}

func getLibrary(b *bbolt.Bucket, name string) (*Library, error) {
	data := b.Get(libraryKey(name))
	if data == nil {
		return nil, ErrLibraryNotFound
	}
	var lib Library
	if err := json.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("failed to unmarshal library %q: %w", name, err)
	}
	return &lib, nil
}

func putLibrary(b *bbolt.Bucket, lib *Library) error {
	data, err := json.Marshal(lib)
	if err != nil {
		return fmt.Errorf("failed to marshal library: %w", err)
	}
	return b.Put(libraryKey(lib.Name), data)
}

// List returns every library sorted by name.
func (l *Libraries) List() ([]Library, error) {
	var out []Library
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(librariesBucket).ForEach(func(k, v []byte) error {
			var lib Library
			if err := json.Unmarshal(v, &lib); err != nil {
				return fmt.Errorf("failed to unmarshal library %q: %w", k, err)
			}
			out = append(out, lib)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Get returns the library called name.
func (l *Libraries) Get(name string) (*Library, error) {
	var lib *Library
	err := l.db.View(func(tx *bbolt.Tx) error {
		var err error
		lib, err = getLibrary(tx.Bucket(librariesBucket), name)
		return err
	})
	return lib, err
}

// Create adds an empty library.
func (l *Libraries) Create(name string) (*Library, error) {
	if err := validLibraryName(name); err != nil {
		return nil, err
	}
	lib := &Library{Name: name, Folders: []string{}, Created: l.now().UTC()}
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(librariesBucket)
		if b.Get(libraryKey(name)) != nil {
			return ErrLibraryExists
		}
		return putLibrary(b, lib)
	})
	if err != nil {
		return nil, err
	}
	return lib, nil
}

// AddFolder appends dir to the library. Adding a member twice is a no-op.
func (l *Libraries) AddFolder(name, dir string) error {
	dir = filepath.Clean(dir)
	return l.update(name, func(lib *Library) error {
		for _, f := range lib.Folders {
			if f == dir {
				return nil
			}
		}
		lib.Folders = append(lib.Folders, dir)
		return nil
	})
}

// RemoveFolder drops dir from the library.
func (l *Libraries) RemoveFolder(name, dir string) error {
	dir = filepath.Clean(dir)
	return l.update(name, func(lib *Library) error {
		kept := lib.Folders[:0]
		for _, f := range lib.Folders {
			if f != dir {
				kept = append(kept, f)
			}
		}
		lib.Folders = kept
		return nil
	})
}

// Rename changes the library's name. Changing only the case is allowed.
func (l *Libraries) Rename(oldName, newName string) (*Library, error) {
	if err := validLibraryName(newName); err != nil {
		return nil, err
	}
	var lib *Library
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(librariesBucket)
		var err error
		lib, err = getLibrary(b, oldName)
		if err != nil {
			return err
		}
		if !strings.EqualFold(oldName, newName) && b.Get(libraryKey(newName)) != nil {
			return ErrLibraryExists
		}
		if err := b.Delete(libraryKey(oldName)); err != nil {
			return err
		}
		lib.Name = newName
		return putLibrary(b, lib)
	})
	if err != nil {
		return nil, err
	}
	return lib, nil
}

// Delete removes the library definition. Member folders are untouched.
func (l *Libraries) Delete(name string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(librariesBucket)
		if b.Get(libraryKey(name)) == nil {
			return ErrLibraryNotFound
		}
		return b.Delete(libraryKey(name))
	})
}

func (l *Libraries) update(name string, fn func(*Library) error) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(librariesBucket)
		lib, err := getLibrary(b, name)
		if err != nil {
			return err
		}
		if err := fn(lib); err != nil {
			return err
		}
		return putLibrary(b, lib)
	})
}

func validLibraryName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid library name %q", name)
	}
	return nil
}
