package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a deterministic, in-process stand-in for a real Agent, used by
// coordinator tests. Every operation is synchronous and idempotent: calling
// Start twice, or Archive twice with the same opID, observably settles into
// the same state as calling it once.
type Mock struct {
	mu sync.Mutex

	containers map[string]*ObservedContainer
	volumes    map[string]*ObservedVolume
	archives   map[string]*ObservedArchive // keyed by workspace id, last committed archive
	upstreams  map[string]*Upstream

	// FailNext, if set for an id, makes the next call for that id return err
	// once and clear itself — used to exercise WC's retry path.
	FailNext map[string]error
}

func NewMock() *Mock {
	return &Mock{
		containers: make(map[string]*ObservedContainer),
		volumes:    make(map[string]*ObservedVolume),
		archives:   make(map[string]*ObservedArchive),
		upstreams:  make(map[string]*Upstream),
		FailNext:   make(map[string]error),
	}
}

func (m *Mock) takeFailure(id string) error {
	if err, ok := m.FailNext[id]; ok {
		delete(m.FailNext, id)
		return err
	}
	return nil
}

func (m *Mock) Observe(ctx context.Context) ([]WorkspaceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []WorkspaceState
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, WorkspaceState{
			WorkspaceID: id,
			Container:   m.containers[id],
			Volume:      m.volumes[id],
			Archive:     m.archives[id],
		})
	}
	for id := range m.containers {
		add(id)
	}
	for id := range m.volumes {
		add(id)
	}
	for id := range m.archives {
		add(id)
	}
	return out, nil
}

func (m *Mock) Provision(ctx context.Context, id string) error {
	if err := m.takeFailure(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[id] = &ObservedVolume{Exists: true}
	return nil
}

func (m *Mock) Start(ctx context.Context, id, imageRef string) error {
	if err := m.takeFailure(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.volumes[id] == nil || !m.volumes[id].Exists {
		return fmt.Errorf("runtime: start %s: no volume", id)
	}
	m.containers[id] = &ObservedContainer{Running: true, Healthy: true}
	m.upstreams[id] = &Upstream{Host: "127.0.0.1", Port: 40000}
	return nil
}

func (m *Mock) Stop(ctx context.Context, id string) error {
	if err := m.takeFailure(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, id)
	delete(m.upstreams, id)
	return nil
}

func (m *Mock) Delete(ctx context.Context, id string) error {
	if err := m.takeFailure(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, id)
	delete(m.volumes, id)
	delete(m.upstreams, id)
	return nil
}

func (m *Mock) Archive(ctx context.Context, id, opID string) (string, error) {
	if err := m.takeFailure(id); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("codehub-ws-%s/%s/home.tar.zst", id, opID)
	// Idempotent: calling Archive twice with the same opID is a no-op HEAD
	// check rather than a re-upload.
	m.archives[id] = &ObservedArchive{Exists: true, ArchiveKey: key}
	return key, nil
}

func (m *Mock) Restore(ctx context.Context, id, archiveKey string) error {
	if err := m.takeFailure(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	archive, ok := m.archives[id]
	if !ok || archive.ArchiveKey != archiveKey {
		return fmt.Errorf("runtime: restore %s: archive_key mismatch", id)
	}
	m.volumes[id] = &ObservedVolume{Exists: true}
	return nil
}

func (m *Mock) CreateEmptyArchive(ctx context.Context, id, opID string) (string, error) {
	return m.Archive(ctx, id, opID)
}

func (m *Mock) RunGC(ctx context.Context, protectedArchiveKeys map[string]bool, protectedWorkspaceIDs map[string]bool) (GCResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result GCResult
	for id, archive := range m.archives {
		if protectedWorkspaceIDs[id] || protectedArchiveKeys[archive.ArchiveKey] {
			continue
		}
		result.DeletedKeys = append(result.DeletedKeys, archive.ArchiveKey)
		result.DeletedCount++
		delete(m.archives, id)
	}
	return result, nil
}

func (m *Mock) GetUpstream(ctx context.Context, id string) (*Upstream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upstreams[id], nil
}
