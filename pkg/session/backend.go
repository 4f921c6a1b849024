package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var ErrNotFound = errors.New("session not found")

// Backend keeps session values on the server, addressed by session id.
// Entries expire after ttl without a Load or Save.
type Backend interface {
	Load(ctx context.Context, id string, ttl time.Duration) (map[string]string, error)
	Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

func encodeValues(values map[string]string) ([]byte, error) {
	data, err := cbor.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode session values: %w", err)
	}
	return data, nil
}

func decodeValues(data []byte) (map[string]string, error) {
	values := make(map[string]string)
	if err := cbor.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode session values: %w", err)
	}
	return values, nil
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryBackend keeps sessions in process memory.
type MemoryBackend struct {
	lock    sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (b *MemoryBackend) Load(_ context.Context, id string, ttl time.Duration) (map[string]string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	entry, ok := b.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := b.now()
	if !now.Before(entry.expires) {
		delete(b.entries, id)
		return nil, ErrNotFound
	}
	entry.expires = now.Add(ttl)
	return decodeValues(entry.data)
}

func (b *MemoryBackend) Save(_ context.Context, id string, values map[string]string, ttl time.Duration) error {
	data, err := encodeValues(values)
	if err != nil {
		return err
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.entries[id] = &memoryEntry{
		data:    data,
		expires: b.now().Add(ttl),
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.entries, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (b *MemoryBackend) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.entries)
}

// Cleanup removes expired sessions and returns how many were removed.
func (b *MemoryBackend) Cleanup() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	now := b.now()
	removed := 0
	for id, entry := range b.entries {
		if !now.Before(entry.expires) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (b *MemoryBackend) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Cleanup(); n > 0 {
				slog.Debug("Removed expired sessions", "count", n)
			}
		}
	}
}
