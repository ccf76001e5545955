// Package blobstore implements the redacting serializer + content-addressed
// blob store (C10): state graphs are serialized with oversize leaves
// externalized to sha256-addressed files, and deserialized back into a
// tree whose externalized leaves are lazy-fetch proxies.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/solstice-labs/agentmem/internal/agentlog"
	"github.com/solstice-labs/agentmem/metrics"
)

// layoutVersion is embedded in every serialized payload and checked on
// deserialize so an incompatible future (or past) layout is rejected
// instead of silently misread.
var layoutVersion = semver.MustParse("1.0.0")

// supportedLayouts constrains which persisted versions this build accepts.
var supportedLayouts = mustConstraint("^1.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ErrBlobMissing is the sentinel error returned by a proxy's Read when the
// underlying blob file cannot be retrieved.
var ErrBlobMissing = errors.New("blobstore: blob data unavailable")

// ErrIncompatibleLayout is returned by Deserialize when the payload's
// embedded version is not accepted by this build.
var ErrIncompatibleLayout = errors.New("blobstore: incompatible persisted layout version")

// operationTimeout bounds every serialize/deserialize call's filesystem I/O.
const operationTimeout = 30 * time.Second

// LeafKind identifies what externalized type a Handle refers to.
type LeafKind string

const (
	LeafText  LeafKind = "text"
	LeafBytes LeafKind = "bytes"
	LeafArray LeafKind = "array"
)

// Handle is the externalized-leaf marker embedded in place of an
// oversize value.
type Handle struct {
	Blob string   `json:"blob"`
	Type LeafKind `json:"type"`
	Size int      `json:"size"`
}

// wireHandle tags a Handle so Deserialize can distinguish it from a
// legitimate object that happens to have a "blob" key.
type wireHandle struct {
	Marker string   `json:"__blobstore_handle__"`
	Blob   string   `json:"blob"`
	Type   LeafKind `json:"type"`
	Size   int      `json:"size"`
}

// Proxy is a lazy-fetch stand-in for an externalized leaf, returned in
// place of the original value by Deserialize.
type Proxy struct {
	store *Store
	Handle
}

// Read fetches the blob's bytes on first access (and on every subsequent
// call — Store itself dedupes concurrent fetches via singleflight).
func (p *Proxy) Read(ctx context.Context) ([]byte, error) {
	return p.store.read(ctx, p.Blob)
}

// Thresholds bounds how large a leaf may be before it is externalized.
type Thresholds struct {
	MaxStringSize int64
	MaxArraySize  int
	MaxObjectKeys int
}

// Store is a content-addressed, sha256-sharded filesystem blob store.
type Store struct {
	dir string
	sf  singleflight.Group
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: create blob dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(hash string) string {
	return filepath.Join(s.dir, hash[:2], hash)
}

// write persists data under its content hash, deduplicating identical
// bytes (a pre-existing file with the same hash is left untouched). On
// any failure it returns an error rather than letting a handle point to
// missing data (spec §4.9 invariant).
func (s *Store) write(ctx context.Context, hash string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	path := s.pathFor(hash)
	if _, err := os.Stat(path); err == nil {
		return nil // identical content already stored
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("blobstore: create shard dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("blobstore: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("blobstore: finalize blob: %w", err)
	}
	metrics.ObserveBlobBytesWritten(len(data))
	return nil
}

// read retrieves blob bytes for hash, deduplicating concurrent reads of
// the same hash via singleflight.
func (s *Store) read(ctx context.Context, hash string) ([]byte, error) {
	v, err, _ := s.sf.Do(hash, func() (any, error) {
		data, err := os.ReadFile(s.pathFor(hash))
		if err != nil {
			agentlog.Error("blobstore: blob read failed", "hash", hash, "error", err)
			return nil, ErrBlobMissing
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Serializer walks arbitrary JSON-shaped state (map[string]any, []any,
// string, numeric, bool, nil), externalizing oversize leaves into store.
type Serializer struct {
	store      *Store
	thresholds Thresholds
}

// NewSerializer builds a Serializer backed by store with the given
// externalization thresholds.
func NewSerializer(store *Store, thresholds Thresholds) *Serializer {
	return &Serializer{store: store, thresholds: thresholds}
}

// Serialize traverses stateObject and returns its bytes, with any leaf
// exceeding the configured thresholds replaced by a handle and written to
// the blob store. Writes for independent leaves proceed concurrently.
func (s *Serializer) Serialize(ctx context.Context, stateObject any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	transformed, err := s.externalize(gctx, g, stateObject)
	if err != nil {
		return nil, err
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("blobstore: externalization write failed: %w", err)
	}

	envelope := map[string]any{
		"version": layoutVersion.String(),
		"state":   transformed,
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("blobstore: encode envelope: %w", err)
	}
	return out, nil
}

func (s *Serializer) externalize(ctx context.Context, g *errgroup.Group, node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if len(v) > s.thresholds.MaxObjectKeys {
			return s.scheduleExternalize(g, v, LeafArray)
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			transformed, err := s.externalize(ctx, g, val)
			if err != nil {
				return nil, err
			}
			out[k] = transformed
		}
		return out, nil

	case []any:
		if len(v) > s.thresholds.MaxArraySize {
			return s.scheduleExternalize(g, v, LeafArray)
		}
		out := make([]any, len(v))
		for i, val := range v {
			transformed, err := s.externalize(ctx, g, val)
			if err != nil {
				return nil, err
			}
			out[i] = transformed
		}
		return out, nil

	case string:
		if int64(len(v)) > s.thresholds.MaxStringSize {
			return s.scheduleExternalize(g, v, LeafText)
		}
		return v, nil

	default:
		return v, nil
	}
}

// scheduleExternalize hashes value's encoded bytes, schedules the
// filesystem write concurrently, and returns the wire handle that will
// replace it in the transformed tree.
func (s *Serializer) scheduleExternalize(g *errgroup.Group, value any, kind LeafKind) (any, error) {
	var data []byte
	var err error
	switch v := value.(type) {
	case string:
		data = []byte(v)
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("blobstore: encode leaf for externalization: %w", err)
		}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	g.Go(func() error {
		return s.store.write(context.Background(), hash, data)
	})

	return wireHandle{Marker: "__blobstore_handle__", Blob: hash, Type: kind, Size: len(data)}, nil
}

// Deserialize decodes bytes produced by Serialize, returning a tree in
// which externalized leaves are *Proxy values rather than their original
// content. The envelope's layout version is checked against the versions
// this build supports.
func (s *Serializer) Deserialize(data []byte) (any, error) {
	var envelope struct {
		Version string `json:"version"`
		State   any    `json:"state"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("blobstore: decode envelope: %w", err)
	}

	v, err := semver.NewVersion(envelope.Version)
	if err != nil || !supportedLayouts.Check(v) {
		return nil, ErrIncompatibleLayout
	}

	return s.resolveProxies(envelope.State), nil
}

func (s *Serializer) resolveProxies(node any) any {
	switch v := node.(type) {
	case map[string]any:
		if marker, ok := v["__blobstore_handle__"]; ok && marker == "__blobstore_handle__" {
			kind, _ := v["type"].(string)
			blob, _ := v["blob"].(string)
			size, _ := v["size"].(float64)
			return &Proxy{store: s.store, Handle: Handle{Blob: blob, Type: LeafKind(kind), Size: int(size)}}
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = s.resolveProxies(val)
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = s.resolveProxies(val)
		}
		return out

	default:
		return v
	}
}
