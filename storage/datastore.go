// Package storage provides the key-value backends used for durable
// transaction records.
package storage

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Read when no value exists for the key,
// regardless of backend.
var ErrNotFound = errors.New("storage: key not found")

type DataStore interface {
	Write(key *[]byte, value *[]byte) error
	Read(key *[]byte) (*[]byte, error)
	ReadAll(f func(key, value *[]byte)) error
	Delete(key *[]byte) error
	Close() error
}

// Init opens the datastore at the given path, choosing the backend from
// the file extension. ".db" selects BerkeleyDB, anything else LevelDB.
func Init(dbPath string) (DataStore, error) {
	if strings.HasSuffix(dbPath, ".db") {
		return InitBerkeleyDb(dbPath)
	}
	return InitLevelDb(dbPath)
}
