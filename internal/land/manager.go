package land

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/metrics"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/errors"
)

// Container pairs one land's keeper with its adapter.
type Container struct {
	LandID  ID
	Keeper  *Keeper
	Adapter *Adapter
}

// ManagerOptions tune every land the manager creates.
type ManagerOptions struct {
	Adapter AdapterOptions

	// RemoveWhenEmpty tears a land down once its last joined session leaves.
	RemoveWhenEmpty bool
}

// Manager owns the live lands of one process: creation is idempotent per
// land id, removal force-disconnects every session.
type Manager struct {
	mu    sync.Mutex
	lands map[ID]*Container

	tr   transport.Transport
	log  *zap.Logger
	opts ManagerOptions
}

func NewManager(tr transport.Transport, log *zap.Logger, opts ManagerOptions) *Manager {
	return &Manager{
		lands: make(map[ID]*Container),
		tr:    tr,
		log:   log,
		opts:  opts,
	}
}

// GetOrCreateLand returns the container for a land id, creating keeper and
// adapter on first use. Concurrent calls for the same id all get the same
// container. The initial state argument seeds only the creating call.
func (m *Manager) GetOrCreateLand(landID ID, def *Definition, initial map[string]interface{}) *Container {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.lands[landID]; ok {
		return c
	}

	keeper := NewKeeper(landID, def, initial, m.log)
	adapter := NewAdapter(landID, keeper, m.tr, m.log, m.opts.Adapter)
	c := &Container{LandID: landID, Keeper: keeper, Adapter: adapter}
	keeper.SetOnFatal(func() {
		m.log.Error("land fatal, tearing down", zap.String("land", landID.String()))
		if err := m.RemoveLand(landID); err != nil {
			m.log.Warn("fatal teardown skipped", zap.String("land", landID.String()), zap.Error(err))
		}
	})
	if m.opts.RemoveWhenEmpty {
		adapter.SetOnEmpty(func() { m.removeIfEmpty(landID) })
	}
	m.lands[landID] = c
	metrics.ActiveLands.Set(float64(len(m.lands)))
	m.log.Info("land created", zap.String("land", landID.String()))
	return c
}

// GetLand returns the container for a land id, or ErrLandNotFound.
func (m *Manager) GetLand(landID ID) (*Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.lands[landID]
	if !ok {
		return nil, errors.ErrLandNotFound
	}
	return c, nil
}

// ListLands returns the ids of every live land.
func (m *Manager) ListLands() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ID, 0, len(m.lands))
	for id := range m.lands {
		out = append(out, id)
	}
	return out
}

// GetLandStats returns the summary for one land.
func (m *Manager) GetLandStats(landID ID) (Stats, error) {
	m.mu.Lock()
	c, ok := m.lands[landID]
	m.mu.Unlock()
	if !ok {
		return Stats{}, errors.ErrLandNotFound
	}
	return Stats{
		LandID:      landID,
		PlayerCount: c.Keeper.PlayerCount(),
		CreatedAt:   c.Keeper.CreatedAt(),
	}, nil
}

// RemoveLand tears a land down, force-disconnecting every session. Removing
// an absent land returns ErrLandNotFound.
func (m *Manager) RemoveLand(landID ID) error {
	m.mu.Lock()
	c, ok := m.lands[landID]
	if ok {
		delete(m.lands, landID)
		metrics.ActiveLands.Set(float64(len(m.lands)))
	}
	m.mu.Unlock()
	if !ok {
		return errors.ErrLandNotFound
	}
	c.Adapter.Teardown("internal")
	m.log.Info("land removed", zap.String("land", landID.String()))
	return nil
}

func (m *Manager) removeIfEmpty(landID ID) {
	m.mu.Lock()
	c, ok := m.lands[landID]
	if ok && c.Adapter.JoinedCount() == 0 {
		delete(m.lands, landID)
		metrics.ActiveLands.Set(float64(len(m.lands)))
		m.log.Info("empty land collected", zap.String("land", landID.String()))
	}
	m.mu.Unlock()
}
