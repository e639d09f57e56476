package voice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
)

// ErrClipNotFound is returned when no audio file exists for a key.
var ErrClipNotFound = errors.New("voice clip not found")

// Extensions lists clip formats in lookup order.
var Extensions = []string{".mp3", ".wav"}

// Clip is a resolved audio asset.
type Clip struct {
	Key  string
	File string
	URL  string
}

// ClipStore answers whether a clip file exists. The clip generator's sinks
// (local directory, GCS bucket) satisfy it.
type ClipStore interface {
	Exists(ctx context.Context, name string) (bool, error)
}

type fsStore struct{ fsys fs.FS }

func (s fsStore) Exists(_ context.Context, name string) (bool, error) {
	info, err := fs.Stat(s.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir() && info.Size() > 0, nil
}

// Library maps phrase keys onto clip files and onto the URLs the browser
// fetches them from.
type Library struct {
	store   ClipStore
	fsys    fs.FS
	baseURL string

	mu    sync.RWMutex
	index map[string]string // key -> file, set by Index
}

// NewLibrary serves clips found at the root of fsys under baseURL.
func NewLibrary(fsys fs.FS, baseURL string) *Library {
	l := &Library{fsys: fsys, baseURL: normalizeBaseURL(baseURL)}
	if fsys != nil {
		l.store = fsStore{fsys}
	}
	return l
}

// NewStoreLibrary resolves clips held in a remote store, such as the
// bucket the generator uploads to. baseURL is where the browser fetches
// them. Call Index once so playback does not query the store per cue.
func NewStoreLibrary(store ClipStore, baseURL string) *Library {
	return &Library{store: store, baseURL: normalizeBaseURL(baseURL)}
}

func normalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "/audio/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

// Index looks up every phrase of the table once and answers later
// lookups from memory.
func (l *Library) Index(ctx context.Context) error {
	index := make(map[string]string, len(Phrases))
	for _, key := range SortedKeys() {
		file, err := l.probe(ctx, key)
		if errors.Is(err, ErrClipNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("index clip %s: %w", key, err)
		}
		index[key] = file
	}
	l.mu.Lock()
	l.index = index
	l.mu.Unlock()
	return nil
}

// Resolve finds the clip for key, preferring mp3 over wav.
func (l *Library) Resolve(ctx context.Context, key string) (Clip, error) {
	if !ValidKey(key) || l.store == nil {
		return Clip{}, ErrClipNotFound
	}
	l.mu.RLock()
	index := l.index
	l.mu.RUnlock()

	var file string
	if index != nil {
		var ok bool
		if file, ok = index[key]; !ok {
			return Clip{}, ErrClipNotFound
		}
	} else {
		var err error
		if file, err = l.probe(ctx, key); err != nil {
			return Clip{}, err
		}
	}
	return Clip{Key: key, File: file, URL: l.baseURL + file}, nil
}

func (l *Library) probe(ctx context.Context, key string) (string, error) {
	for _, ext := range Extensions {
		ok, err := l.store.Exists(ctx, key+ext)
		if err != nil {
			return "", err
		}
		if ok {
			return key + ext, nil
		}
	}
	return "", ErrClipNotFound
}

// Missing lists the table keys that have no clip yet.
func (l *Library) Missing(ctx context.Context) []string {
	var missing []string
	for _, key := range SortedKeys() {
		if _, err := l.Resolve(ctx, key); err != nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// FS exposes the local clip directory for serving; nil for remote stores.
func (l *Library) FS() fs.FS {
	return l.fsys
}
