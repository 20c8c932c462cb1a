package health

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Manager struct {
	logger    types.Logger
	results   map[string]types.ComponentHealth
	startTime time.Time
	mu        sync.RWMutex
	state     atomic.Value
}

func NewManager(logger types.Logger) *Manager {
	manager := &Manager{
		logger:  logger,
		results: make(map[string]types.ComponentHealth),
	}

	manager.state.Store(StateStopped)

	return manager
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.startTime = time.Now()
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.mu.Lock()
	m.results = make(map[string]types.ComponentHealth)
	m.mu.Unlock()

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) SetStatus(component string, status types.HealthStatus, message string) {
	m.mu.Lock()
	prev, existed := m.results[component]
	m.results[component] = types.ComponentHealth{
		Name:      component,
		Status:    status,
		Message:   message,
		CheckedAt: time.Now(),
	}
	m.mu.Unlock()

	if existed && prev.Status != status {
		m.logger.Info("Component health changed",
			zap.String("component", component),
			zap.String("from", string(prev.Status)),
			zap.String("to", string(status)))
	}
}

func (m *Manager) GetStatus(component string) (types.ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result, exists := m.results[component]
	return result, exists
}

func (m *Manager) Snapshot() map[string]types.ComponentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]types.ComponentHealth, len(m.results))
	for name, result := range m.results {
		snapshot[name] = result
	}
	return snapshot
}

func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, result := range m.results {
		if result.Status == types.HealthStatusDown {
			return false
		}
	}
	return true
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
