// Package blocker enforces the device agent's per-app-group blocking
// decisions by killing the processes of one blocked app group at a time,
// rather than locking the whole workstation.
package blocker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"heimdall/internal/agent/monitor"
)

const (
	defaultGracefulTimeout = 3 * time.Second
	forceKillTimeout       = 2 * time.Second
)

// BlockActionFunc is invoked every time enforce kills a session's process,
// so the orchestrator can surface a block overlay.
type BlockActionFunc func(executable, appGroupID string)

// Blocker tracks which app groups are currently blocked and kills
// processes belonging to blocked groups on each enforcement tick.
type Blocker struct {
	mu            sync.Mutex
	blockedGroups map[string]struct{}
	onBlockAction BlockActionFunc
	logger        *slog.Logger
}

// New creates a Blocker.
func New(onBlockAction BlockActionFunc, logger *slog.Logger) *Blocker {
	return &Blocker{
		blockedGroups: map[string]struct{}{},
		onBlockAction: onBlockAction,
		logger:        logger.With("component", "blocker"),
	}
}

// BlockGroup marks an app group as blocked. Idempotent.
func (b *Blocker) BlockGroup(id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockedGroups[id] = struct{}{}
}

// UnblockGroup clears an app group's blocked state. Idempotent.
func (b *Blocker) UnblockGroup(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blockedGroups, id)
}

// IsBlocked reports whether the group is currently blocked.
func (b *Blocker) IsBlocked(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, blocked := b.blockedGroups[id]
	return blocked
}

// BlockedGroups returns a snapshot of the blocked group ids.
func (b *Blocker) BlockedGroups() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.blockedGroups))
	for id := range b.blockedGroups {
		out = append(out, id)
	}
	return out
}

// Enforce is the per-tick hook. A nil session or a session in an
// untracked group is a no-op.
func (b *Blocker) Enforce(ctx context.Context, session *monitor.AppSession) {
	if session == nil || session.AppGroupID == "" {
		return
	}
	if !b.IsBlocked(session.AppGroupID) {
		return
	}

	killed, err := killByExecutable(ctx, session.Executable)
	if err != nil {
		b.logger.Error("failed to enforce block", "executable", session.Executable, "error", err)
	}
	if killed > 0 {
		b.logger.Info("blocked application enforced", "executable", session.Executable, "app_group_id", session.AppGroupID, "killed", killed)
		if b.onBlockAction != nil {
			b.onBlockAction(session.Executable, session.AppGroupID)
		}
	}
}

// killByExecutable kills every running process whose executable name
// matches target, case-insensitively.
func killByExecutable(ctx context.Context, target string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	killed := 0
	target = strings.ToLower(target)
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // process likely gone between enumeration and lookup; counts as handled
		}
		if strings.ToLower(name) != target {
			continue
		}
		if err := killProcess(ctx, p, defaultGracefulTimeout); err != nil {
			return killed, err
		}
		killed++
	}
	return killed, nil
}

// killProcess terminates a process, waits up to gracefulTimeout, then
// force-kills and waits up to 2s if it is still alive. Missing or
// permission-denied on the initial lookup counts as success.
func killProcess(ctx context.Context, p *process.Process, gracefulTimeout time.Duration) error {
	alive, err := p.IsRunningWithContext(ctx)
	if err != nil || !alive {
		return nil
	}

	_ = p.TerminateWithContext(ctx)
	if waitUntilGone(ctx, p, gracefulTimeout) {
		return nil
	}

	_ = p.KillWithContext(ctx)
	waitUntilGone(ctx, p, forceKillTimeout)
	return nil
}

func waitUntilGone(ctx context.Context, p *process.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		alive, err := p.IsRunningWithContext(ctx)
		if err != nil || !alive {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	alive, err := p.IsRunningWithContext(ctx)
	return err != nil || !alive
}
