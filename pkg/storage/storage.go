package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist in storage.
var ErrNotFound = errors.New("not found")

// Storage provides an abstraction over key-value style durable storage.
// Task, agent, and session records are persisted through this interface so
// the same repositories run against the local filesystem or S3.
type Storage interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
}
