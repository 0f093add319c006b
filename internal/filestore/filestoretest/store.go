// Package filestoretest provides an in-memory filestore.Store for tests.
package filestoretest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/cosbrowser/internal/filestore"
)

// Store is an in-memory bucket with v1 marker pagination. It is safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	objects map[string]filestore.ObjectInfo
	err     error
	closed  bool

	prefixes    []string
	presignBase string
	presigned   int

	pages atomic.Int32
}

var _ filestore.Store = (*Store)(nil)

// New returns a Store holding objects of the given sizes.
func New(sizes map[string]int64) *Store {
	s := &Store{objects: make(map[string]filestore.ObjectInfo, len(sizes))}
	for k, n := range sizes {
		s.Put(k, n)
	}
	return s
}

// Put adds or replaces an object.
func (s *Store) Put(key string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = filestore.ObjectInfo{
		Key:          key,
		Size:         size,
		LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FailWith makes every later call return err; nil restores normal service.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// PresignWith makes PresignGetURL return URLs under base instead of
// https://<bucket>.example.com.
func (s *Store) PresignWith(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presignBase = base
}

// Presigned returns how many URLs were signed.
func (s *Store) Presigned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presigned
}

// Prefixes returns the prefix of every page served, in order.
func (s *Store) Prefixes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prefixes...)
}

// Pages returns how many pages were served.
func (s *Store) Pages() int {
	return int(s.pages.Load())
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) Ping(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) ListPage(ctx context.Context, _ string, req filestore.PageRequest) (*filestore.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.pages.Add(1)
	s.prefixes = append(s.prefixes, req.Prefix)

	maxKeys := req.MaxKeys
	if maxKeys <= 0 {
		maxKeys = filestore.MaxPageKeys
	}

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, req.Prefix) && k > req.Marker {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &filestore.Page{}
	seen := map[string]bool{}
	last := ""
	for _, k := range keys {
		// Keys rolled up under a marker prefix were returned already.
		if req.Delimiter != "" && strings.HasSuffix(req.Marker, req.Delimiter) && strings.HasPrefix(k, req.Marker) {
			continue
		}

		entry := k
		if req.Delimiter != "" {
			if i := strings.Index(k[len(req.Prefix):], req.Delimiter); i >= 0 {
				entry = k[:len(req.Prefix)+i+len(req.Delimiter)]
			}
		}
		if seen[entry] {
			continue
		}
		if len(seen) == maxKeys {
			page.IsTruncated = true
			page.NextMarker = last
			break
		}
		seen[entry] = true
		last = entry

		if entry != k {
			page.CommonPrefixes = append(page.CommonPrefixes, entry)
		} else {
			page.Objects = append(page.Objects, s.objects[k])
		}
	}
	return page, nil
}

func (s *Store) PresignGetURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.presigned++
	base := s.presignBase
	if base == "" {
		base = "https://" + bucket + ".example.com"
	}
	return base + "/" + key + "?sign=test", nil
}
