package blob

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const memScheme = "mem://"

// MemoryStore keeps objects in process. It also implements Fetch for its own
// URLs so it can stand in for both ends of a document round trip.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]Object
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]Object)}
}

func (m *MemoryStore) Put(ctx context.Context, obj Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	body := make([]byte, len(obj.Body))
	copy(body, obj.Body)
	obj.Body = body
	obj.ContentType = obj.MediaType()

	m.mu.Lock()
	m.objects[obj.Key] = obj
	m.mu.Unlock()
	return m.URL(obj.Key), nil
}

func (m *MemoryStore) URL(key string) string {
	return memScheme + m.bucket + "/" + key
}

func (m *MemoryStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	obj, ok := m.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(obj.Body))
	copy(out, obj.Body)
	return out, nil
}

func (m *MemoryStore) Link(_ context.Context, key string) (string, error) {
	if _, ok := m.Get(key); !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return m.URL(key), nil
}

func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	prefix := memScheme + m.bucket + "/"
	if !strings.HasPrefix(url, prefix) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return m.Read(ctx, strings.TrimPrefix(url, prefix))
}
