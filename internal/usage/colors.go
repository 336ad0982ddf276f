package usage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Palette resolves package names to colors from a configured table. Keys are
// either exact package names or prefixes ending in ".*", e.g. "com.google.*".
// The longest matching prefix wins. Resolutions, including misses, are cached.
type Palette struct {
	exact    map[string]string
	prefixes []prefixColor

	mu    sync.Mutex
	cache *lru.Cache[string, colorHit]
}

type prefixColor struct {
	prefix string
	color  string
}

type colorHit struct {
	color string
	ok    bool
}

// NewPalette builds a palette from entries with an LRU of cacheSize lookups.
func NewPalette(entries map[string]string, cacheSize int) (*Palette, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, colorHit](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create color cache: %w", err)
	}

	p := &Palette{
		exact: make(map[string]string, len(entries)),
		cache: cache,
	}
	for key, color := range entries {
		if color == "" {
			return nil, fmt.Errorf("empty color for %q", key)
		}
		if prefix, ok := strings.CutSuffix(key, "*"); ok {
			p.prefixes = append(p.prefixes, prefixColor{prefix: prefix, color: color})
			continue
		}
		p.exact[key] = color
	}
	sort.Slice(p.prefixes, func(i, j int) bool {
		return len(p.prefixes[i].prefix) > len(p.prefixes[j].prefix)
	})
	return p, nil
}

// Color implements ColorResolver.
func (p *Palette) Color(packageName string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if hit, ok := p.cache.Get(packageName); ok {
		return hit.color, hit.ok
	}

	hit := p.lookup(packageName)
	p.cache.Add(packageName, hit)
	return hit.color, hit.ok
}

func (p *Palette) lookup(packageName string) colorHit {
	if c, ok := p.exact[packageName]; ok {
		return colorHit{color: c, ok: true}
	}
	for _, pc := range p.prefixes {
		if strings.HasPrefix(packageName, pc.prefix) {
			return colorHit{color: pc.color, ok: true}
		}
	}
	return colorHit{}
}
