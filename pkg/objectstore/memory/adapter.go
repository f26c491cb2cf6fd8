package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/nimburion/objectbank/pkg/objectstore"
)

// Adapter keeps containers in process memory. Values are copied on the way in and out.
type Adapter struct {
	mu         sync.RWMutex
	containers map[string]map[string][]byte
	closed     bool
}

// NewAdapter creates an empty in-memory store with the given containers pre-created.
func NewAdapter(containers ...string) *Adapter {
	a := &Adapter{containers: make(map[string]map[string][]byte)}
	for _, name := range containers {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			a.containers[trimmed] = make(map[string][]byte)
		}
	}
	return a
}

func (a *Adapter) Put(_ context.Context, container, key string, value []byte) error {
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return objectstore.ErrClosed
	}
	objects, ok := a.containers[container]
	if !ok {
		return objectstore.ErrContainerNotFound
	}
	objects[key] = append([]byte(nil), value...)
	return nil
}

func (a *Adapter) Get(_ context.Context, container, key string) ([]byte, error) {
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, objectstore.ErrClosed
	}
	objects, ok := a.containers[container]
	if !ok {
		return nil, objectstore.ErrContainerNotFound
	}
	value, ok := objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (a *Adapter) Delete(_ context.Context, container, key string) error {
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return objectstore.ErrClosed
	}
	if objects, ok := a.containers[container]; ok {
		delete(objects, key)
	}
	return nil
}

func (a *Adapter) List(_ context.Context, container, prefix string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, objectstore.ErrClosed
	}
	objects, ok := a.containers[container]
	if !ok {
		return nil, objectstore.ErrContainerNotFound
	}
	keys := make([]string, 0, len(objects))
	for key := range objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return objectstore.UniqueKeys(keys), nil
}

func (a *Adapter) HeadContainer(_ context.Context, container string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false, objectstore.ErrClosed
	}
	_, ok := a.containers[container]
	return ok, nil
}

// CreateContainer provisions an empty container; existing containers are left untouched.
func (a *Adapter) CreateContainer(_ context.Context, container string) error {
	container, err := objectstore.ValidateContainer(container)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return objectstore.ErrClosed
	}
	if _, ok := a.containers[container]; !ok {
		a.containers[container] = make(map[string][]byte)
	}
	return nil
}

func (a *Adapter) HealthCheck(context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return objectstore.ErrClosed
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
