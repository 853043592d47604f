package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

type memBucket struct {
	public  bool
	objects map[string]memObject
}

// Memory keeps objects in process. It backs the "memory" backend and the
// package tests of everything that talks to an ObjectStore.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]*memBucket

	puts        int
	policySets  int
	failPutKeys map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		buckets:     make(map[string]*memBucket),
		failPutKeys: make(map[string]error),
	}
}

func (m *Memory) EnsureBucket(ctx context.Context, bucket string, publicRead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; ok {
		return nil
	}
	m.buckets[bucket] = &memBucket{public: publicRead, objects: make(map[string]memObject)}
	if publicRead {
		m.policySets++
	}
	return nil
}

func (m *Memory) PutObject(ctx context.Context, bucket, key, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return opError("put", bucket, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failPutKeys[key]; ok {
		return opError("put", bucket, key, err)
	}
	b, ok := m.buckets[bucket]
	if !ok {
		// S3 and GCS both reject writes to a missing bucket.
		return opError("put", bucket, key, fmt.Errorf("bucket %s: %w", bucket, ErrNotFound))
	}
	b.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now()}
	m.puts++
	return nil
}

func (m *Memory) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.lookup(bucket, key)
	if err != nil {
		return nil, opError("get", bucket, key, err)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) DeleteObject(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[bucket]; ok {
		delete(b.objects, key)
	}
	return nil
}

func (m *Memory) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	obj, err := m.lookup(bucket, key)
	if err != nil {
		return ObjectInfo{}, opError("stat", bucket, key, err)
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType, LastModified: obj.modified}, nil
}

// PresignGet returns a memory:// URL; it is only meaningful to tests and
// local development.
func (m *Memory) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	expires := time.Now().Add(presignTTL(ttl)).Unix()
	u := url.URL{
		Scheme:   "memory",
		Host:     bucket,
		Path:     "/" + key,
		RawQuery: url.Values{"expires": {fmt.Sprint(expires)}}.Encode(),
	}
	return u.String(), nil
}

func (m *Memory) lookup(bucket, key string) (memObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return memObject{}, ErrNotFound
	}
	obj, ok := b.objects[key]
	if !ok {
		return memObject{}, ErrNotFound
	}
	return obj, nil
}

// PutBytes stores data directly, bypassing the local file.
func (m *Memory) PutBytes(bucket, key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		b = &memBucket{objects: make(map[string]memObject)}
		m.buckets[bucket] = b
	}
	b.objects[key] = memObject{data: append([]byte(nil), data...), contentType: contentType, modified: time.Now()}
}

// FailPut makes every later PutObject on key fail with err.
func (m *Memory) FailPut(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPutKeys[key] = err
}

// Keys lists the object keys of a bucket in sorted order.
func (m *Memory) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContentType returns the content type an object was stored with.
func (m *Memory) ContentType(bucket, key string) string {
	obj, err := m.lookup(bucket, key)
	if err != nil {
		return ""
	}
	return obj.contentType
}

// Puts counts successful PutObject calls.
func (m *Memory) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// PolicySets counts how many times a public policy was attached.
func (m *Memory) PolicySets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policySets
}

// IsPublic reports whether the bucket was created public-read.
func (m *Memory) IsPublic(bucket string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	return ok && b.public
}
