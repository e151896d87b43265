package storage

import "errors"

// ErrKeyNotFound is returned by Get for a missing key
var ErrKeyNotFound = errors.New("key not found")

// Store persists JSON records under string keys. Keys are namespaced by
// prefix: the fault-rule journal and the action run history share one
// database.
type Store interface {
	Put(key string, value interface{}) error
	Get(key string, value interface{}) error
	Delete(key string) error
	// List calls fn for every record whose key starts with prefix, in key
	// order. decode unmarshals the record into its argument.
	List(prefix string, fn func(key string, decode func(interface{}) error) error) error
	Close() error
}
