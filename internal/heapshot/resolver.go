package heapshot

import (
	"sync"

	"github.com/heapshot-analysis/internal/parser/mlog"
)

// TypeNameResolver maps a class pointer to a display name.
type TypeNameResolver interface {
	TypeName(typeID mlog.Pointer) (string, bool)
}

// ClassNames is a TypeNameResolver fed from ClassLoad events. It is safe for
// concurrent use.
type ClassNames struct {
	mu    sync.RWMutex
	names map[mlog.Pointer]string
}

func NewClassNames() *ClassNames {
	return &ClassNames{names: make(map[mlog.Pointer]string)}
}

// Add records a name. A later load of the same pointer replaces it.
func (c *ClassNames) Add(typeID mlog.Pointer, name string) {
	c.mu.Lock()
	c.names[typeID] = name
	c.mu.Unlock()
}

func (c *ClassNames) TypeName(typeID mlog.Pointer) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[typeID]
	return name, ok
}

func (c *ClassNames) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}
