package staging

import (
	"sync"

	"github.com/google/uuid"
)

// Previews issues and releases local preview handles for unsaved files.
type Previews interface {
	Create(f LocalFile) string
	Release(handle string)
}

// MemoryPreviews is an in-process handle registry. It counts live handles
// and releases of handles it does not know, so leaks and double releases
// both show up.
type MemoryPreviews struct {
	mu             sync.Mutex
	live           map[string]struct{}
	doubleReleases int
}

func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{live: make(map[string]struct{})}
}

func (p *MemoryPreviews) Create(LocalFile) string {
	handle := "blob:" + uuid.NewString()
	p.mu.Lock()
	p.live[handle] = struct{}{}
	p.mu.Unlock()
	return handle
}

func (p *MemoryPreviews) Release(handle string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[handle]; !ok {
		p.doubleReleases++
		return
	}
	delete(p.live, handle)
}

// Live returns the number of handles not yet released.
func (p *MemoryPreviews) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// DoubleReleases counts releases of unknown or already released handles.
func (p *MemoryPreviews) DoubleReleases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doubleReleases
}
