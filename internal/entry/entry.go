// Package entry keeps the host's configuration entries: one per installed
// integration instance.
package entry

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("config entry not found")
	ErrAlreadyExists = errors.New("config entry already exists")
)

type Entry struct {
	EntryID   string         `json:"entry_id"`
	Domain    string         `json:"domain"`
	Title     string         `json:"title"`
	UniqueID  string         `json:"unique_id,omitempty"`
	Version   int            `json:"version"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

func New(domain, title, uniqueID string, version int, data map[string]any) Entry {
	if data == nil {
		data = map[string]any{}
	}
	return Entry{
		EntryID:   uuid.NewString(),
		Domain:    domain,
		Title:     title,
		UniqueID:  uniqueID,
		Version:   version,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// Store persists entries. A unique id, when set, is unique within its
// domain; Add reports ErrAlreadyExists otherwise.
type Store interface {
	Add(e Entry) error
	Get(entryID string) (*Entry, error)
	FindByUniqueID(domain, uniqueID string) (*Entry, error)
	List(domain string) ([]Entry, error)
	Remove(entryID string) error
	Close() error
}
