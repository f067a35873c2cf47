// Package monitor implements the device agent's foreground-application
// sampling loop, polling for the active window and detecting app changes.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// AppSession describes one continuous run of a foreground application.
type AppSession struct {
	Executable  string
	WindowTitle string
	AppGroupID  string
	PID         int32
	StartedAt   time.Time
}

// AppChangeFunc is invoked whenever the foreground session changes. Either
// argument may be nil: a nil old means no prior session, a nil new means
// the foreground was lost.
type AppChangeFunc func(old, new *AppSession)

// Monitor samples the foreground application on an interval and reports
// changes to a callback.
type Monitor struct {
	platform      Platform
	appGroupMap   func(executable string) string
	onAppChange   AppChangeFunc
	interval      time.Duration
	logger        *slog.Logger
	simulated     *Descriptor
	mu            sync.Mutex
	currentSession *AppSession
}

// New creates a Monitor. appGroupMap resolves a lowercased executable name
// to an app group id.
func New(platform Platform, interval time.Duration, appGroupMap func(string) string, onAppChange AppChangeFunc, logger *slog.Logger) *Monitor {
	return &Monitor{
		platform:    platform,
		appGroupMap: appGroupMap,
		onAppChange: onAppChange,
		interval:    interval,
		logger:      logger.With("component", "monitor"),
	}
}

// SetOnAppChange installs the app-change callback, for callers that need
// to wire a Monitor and its consumer to each other after construction.
func (m *Monitor) SetOnAppChange(fn AppChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAppChange = fn
}

// SetSimulated overrides the foreground descriptor for testing or remote
// control. Pass nil to clear the override.
func (m *Monitor) SetSimulated(d *Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulated = d
}

// CurrentSession returns a copy of the active session, or nil.
func (m *Monitor) CurrentSession() *AppSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentSession == nil {
		return nil
	}
	session := *m.currentSession
	return &session
}

// Run blocks, sampling the foreground application every interval until ctx
// is cancelled. On exit, if a session is active, it fires one final
// on_app_change(old, nil) so the orchestrator can close out the session.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick()
	for {
		select {
		case <-ctx.Done():
			m.closeCurrentSession()
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	descriptor, err := m.resolveDescriptor()
	if err != nil {
		m.logger.Warn("failed to read foreground descriptor", "error", err)
		return
	}

	m.mu.Lock()
	current := m.currentSession
	unchanged := current != nil && current.Executable == descriptor.Executable && current.PID == descriptor.PID
	if unchanged {
		m.mu.Unlock()
		return
	}

	groupID := ""
	if m.appGroupMap != nil {
		groupID = m.appGroupMap(strings.ToLower(descriptor.Executable))
	}
	newSession := &AppSession{
		Executable:  descriptor.Executable,
		WindowTitle: descriptor.WindowTitle,
		AppGroupID:  groupID,
		PID:         descriptor.PID,
		StartedAt:   time.Now().UTC(),
	}
	m.currentSession = newSession
	onAppChange := m.onAppChange
	m.mu.Unlock()

	m.logger.Debug("foreground app changed", "executable", newSession.Executable, "app_group_id", newSession.AppGroupID)
	if onAppChange != nil {
		onAppChange(current, newSession)
	}
}

func (m *Monitor) resolveDescriptor() (Descriptor, error) {
	m.mu.Lock()
	simulated := m.simulated
	m.mu.Unlock()
	if simulated != nil {
		return *simulated, nil
	}
	return m.platform.ForegroundDescriptor()
}

func (m *Monitor) closeCurrentSession() {
	m.mu.Lock()
	current := m.currentSession
	m.currentSession = nil
	onAppChange := m.onAppChange
	m.mu.Unlock()

	if current != nil && onAppChange != nil {
		onAppChange(current, nil)
	}
}
