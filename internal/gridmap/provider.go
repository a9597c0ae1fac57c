package gridmap

import (
	"errors"
	"sync"
)

// ErrNoMap is returned by providers that have no map to hand out
var ErrNoMap = errors.New("no occupancy map available")

// Provider is a pull accessor for the current occupancy map
type Provider interface {
	Map() (Map, error)
}

// StaticProvider hands out a map that was built up front
type StaticProvider struct {
	m Map
}

// NewStaticProvider wraps an existing map. A nil map yields ErrNoMap on every call.
func NewStaticProvider(m Map) *StaticProvider {
	return &StaticProvider{m: m}
}

// Map returns the wrapped map
func (p *StaticProvider) Map() (Map, error) {
	if p.m == nil {
		return nil, ErrNoMap
	}
	return p.m, nil
}

// FileProvider loads an image map on first use and caches the result
type FileProvider struct {
	path string
	opts ImageOptions

	once sync.Once
	grid *Grid
	err  error
}

// NewFileProvider creates a provider for the image at path
func NewFileProvider(path string, opts ImageOptions) *FileProvider {
	return &FileProvider{path: path, opts: opts}
}

// Path returns the image path
func (p *FileProvider) Path() string {
	return p.path
}

// Map loads the map once and returns the cached grid afterwards
func (p *FileProvider) Map() (Map, error) {
	p.once.Do(func() {
		if p.path == "" {
			p.err = ErrNoMap
			return
		}
		p.grid, p.err = LoadImage(p.path, p.opts)
	})
	if p.err != nil {
		return nil, p.err
	}
	return p.grid, nil
}
