// Package orchestrator wires the device agent's components together and
// owns its lifecycle, expanding a single poll-and-enforce loop into six
// concurrent loops: foreground monitoring, enforcement, WebSocket
// connection, REST heartbeat, rule polling, and offline replay.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"heimdall/internal/agent/blocker"
	"heimdall/internal/agent/comm"
	"heimdall/internal/agent/monitor"
	"heimdall/internal/agent/offlinecache"
	"heimdall/internal/agentconfig"
	"heimdall/internal/core"
	"heimdall/internal/policy"
	"heimdall/internal/totp"
)

const syncInterval = 30 * time.Second
const retentionDays = 7

// TrayState is the small state machine the system tray icon reflects.
type TrayState string

const (
	TrayConnected TrayState = "connected"
	TrayWarning   TrayState = "warning"
	TrayBlocked   TrayState = "blocked"
	TrayOffline   TrayState = "offline"
)

// Orchestrator owns the agent's full runtime lifecycle.
type Orchestrator struct {
	cfg     *agentconfig.Config
	monitor *monitor.Monitor
	blocker *blocker.Blocker
	rest    *comm.RESTClient
	ws      *comm.WSClient
	cache   *offlinecache.Cache
	logger  *slog.Logger

	mu                sync.Mutex
	online            bool
	totpOverrideUntil time.Time
	currentRules      *policy.ResolvedRules
	totpConfig        *policy.TotpConfig
	groupUsageSeconds map[string]int
	trayState         TrayState
}

// New creates an Orchestrator. Call Run to start it; Run blocks until ctx
// is cancelled.
func New(cfg *agentconfig.Config, mon *monitor.Monitor, blk *blocker.Blocker, rest *comm.RESTClient, ws *comm.WSClient, cache *offlinecache.Cache, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:               cfg,
		monitor:           mon,
		blocker:           blk,
		rest:              rest,
		ws:                ws,
		cache:             cache,
		logger:            logger.With("component", "orchestrator"),
		groupUsageSeconds: map[string]int{},
		trayState:         TrayOffline,
	}
}

// ErrNotRegistered is returned by Run when the agent has no device token.
var ErrNotRegistered = errors.New("orchestrator: device is not registered")

// Run launches all six concurrent loops and blocks until ctx is
// cancelled. If the agent is not registered, it returns immediately with
// an error the caller should surface to the user. The WebSocket
// sub-client must have o.OnWSMessage installed as its message callback
// (at construction or via SetOnMessage) so WebSocket pushes reach the
// orchestrator's dispatch loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.cfg.IsRegistered() {
		return ErrNotRegistered
	}

	var wg sync.WaitGroup
	loops := []func(context.Context){
		o.monitor.Run,
		o.enforceLoop,
		o.ws.Run,
		o.heartbeatLoop,
		o.rulePollLoop,
		o.syncLoop,
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(l func(context.Context)) {
			defer wg.Done()
			l(ctx)
		}(loop)
	}

	wg.Wait()
	return nil
}

// OnAppChange implements monitor.AppChangeFunc, posting start/stop usage
// events with an offline fallback.
func (o *Orchestrator) OnAppChange(old, new *monitor.AppSession) {
	ctx := context.Background()
	now := time.Now().UTC()

	if old != nil {
		duration := int(now.Sub(old.StartedAt).Seconds())
		o.addGroupUsage(old.AppGroupID, duration)
		payload := map[string]any{
			"app_package":      old.Executable,
			"app_group_id":     old.AppGroupID,
			"event_type":       "stop",
			"started_at":       old.StartedAt,
			"ended_at":         now,
			"duration_seconds": duration,
		}
		o.sendUsageEvent(ctx, payload)
	}

	if new != nil {
		payload := map[string]any{
			"app_package":  new.Executable,
			"app_group_id": new.AppGroupID,
			"event_type":   "start",
			"started_at":   new.StartedAt,
		}
		o.sendUsageEvent(ctx, payload)
	}
}

func (o *Orchestrator) sendUsageEvent(ctx context.Context, payload map[string]any) {
	if err := o.rest.UsageEvent(ctx, payload); err != nil {
		o.logger.Warn("usage event send failed, queueing offline", "error", err)
		if cacheErr := o.cache.QueueUsageEvent(ctx, payload); cacheErr != nil {
			o.logger.Error("failed to queue usage event", "error", cacheErr)
		}
		o.setOnline(false)
		return
	}
	o.setOnline(true)
}

func (o *Orchestrator) addGroupUsage(groupID string, seconds int) {
	if groupID == "" {
		return
	}
	o.mu.Lock()
	o.groupUsageSeconds[groupID] += seconds
	o.mu.Unlock()
}

// enforceLoop is loop 2: every monitor_interval, unless a TOTP override is
// active, invoke blocker.Enforce on the current session.
func (o *Orchestrator) enforceLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MonitorInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			overrideActive := !o.totpOverrideUntil.IsZero() && o.totpOverrideUntil.After(time.Now())
			if !o.totpOverrideUntil.IsZero() && !overrideActive {
				o.totpOverrideUntil = time.Time{}
			}
			o.mu.Unlock()

			if overrideActive {
				continue
			}
			o.blocker.Enforce(ctx, o.monitor.CurrentSession())
		}
	}
}

// heartbeatLoop is loop 4.
func (o *Orchestrator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			activeApp := ""
			if session := o.monitor.CurrentSession(); session != nil {
				activeApp = session.Executable
			}
			if err := o.rest.Heartbeat(ctx, activeApp, false); err != nil {
				o.logger.Warn("heartbeat failed, queueing offline", "error", err)
				_ = o.cache.QueueHeartbeat(ctx, map[string]any{"active_app": activeApp, "timestamp": time.Now().UTC()})
				o.setOnline(false)
				continue
			}
			o.setOnline(true)
		}
	}
}

// rulePollLoop is loop 5.
func (o *Orchestrator) rulePollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RulePollInterval.Duration())
	defer ticker.Stop()

	o.pollRules(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollRules(ctx)
		}
	}
}

func (o *Orchestrator) pollRules(ctx context.Context) {
	var rules policy.ResolvedRules
	if err := o.rest.CurrentRules(ctx, &rules); err != nil {
		o.logger.Warn("rule poll failed, falling back to cache", "error", err)
		o.setOnline(false)

		cached, cacheErr := o.cache.GetCachedRules(ctx)
		if cacheErr != nil || cached == nil {
			return
		}
		var fallback policy.ResolvedRules
		if err := json.Unmarshal(cached, &fallback); err != nil {
			return
		}
		o.applyRules(&fallback)
		return
	}

	o.setOnline(true)
	o.applyRules(&rules)
	if err := o.cache.CacheRules(ctx, rules); err != nil {
		o.logger.Error("failed to cache rules", "error", err)
	}
}

// applyRules walks each group limit, blocking if used >= limit and
// unblocking otherwise, then recomputes tray state.
func (o *Orchestrator) applyRules(rules *policy.ResolvedRules) {
	o.mu.Lock()
	o.currentRules = rules
	o.totpConfig = rules.TotpConfig
	usage := make(map[string]int, len(o.groupUsageSeconds))
	for k, v := range o.groupUsageSeconds {
		usage[k] = v
	}
	o.mu.Unlock()

	anyBlocked := false
	anyWarning := false
	for _, limit := range rules.GroupLimits {
		usedMinutes := usage[limit.GroupID] / 60
		if limit.MaxMinutes > 0 && usedMinutes >= limit.MaxMinutes {
			o.blocker.BlockGroup(limit.GroupID)
			anyBlocked = true
			continue
		}
		o.blocker.UnblockGroup(limit.GroupID)
		remaining := limit.MaxMinutes - usedMinutes
		if limit.MaxMinutes > 0 && remaining > 0 && remaining <= 5 {
			anyWarning = true
		}
	}

	o.mu.Lock()
	switch {
	case anyBlocked:
		o.trayState = TrayBlocked
	case anyWarning:
		o.trayState = TrayWarning
	case o.online:
		o.trayState = TrayConnected
	default:
		o.trayState = TrayOffline
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setOnline(v bool) {
	o.mu.Lock()
	wasOnline := o.online
	o.online = v
	if wasOnline != v {
		if o.trayState != TrayBlocked && o.trayState != TrayWarning {
			if v {
				o.trayState = TrayConnected
			} else {
				o.trayState = TrayOffline
			}
		}
	}
	o.mu.Unlock()
}

// TrayState returns the current tray display state.
func (o *Orchestrator) TrayState() TrayState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trayState
}

// syncLoop is loop 6: drains up to 50 queued events every 30s, stopping
// the batch at the first error, then runs retention cleanup.
func (o *Orchestrator) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.drainQueue(ctx)
			if err := o.cache.Cleanup(ctx, retentionDays); err != nil {
				o.logger.Error("offline cache cleanup failed", "error", err)
			}
		}
	}
}

func (o *Orchestrator) drainQueue(ctx context.Context) {
	events, err := o.cache.GetPendingEvents(ctx, 50)
	if err != nil {
		o.logger.Error("failed to read pending events", "error", err)
		return
	}

	var synced []int64
	for _, event := range events {
		var sendErr error
		switch event.EventType {
		case offlinecache.EventUsageEvent:
			var payload map[string]any
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				sendErr = err
				break
			}
			sendErr = o.rest.UsageEvent(ctx, payload)
		case offlinecache.EventHeartbeat:
			var payload struct {
				ActiveApp string `json:"active_app"`
			}
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				sendErr = err
				break
			}
			sendErr = o.rest.Heartbeat(ctx, payload.ActiveApp, false)
		}
		if sendErr != nil {
			break
		}
		synced = append(synced, event.ID)
	}

	if len(synced) > 0 {
		if err := o.cache.MarkSyncedBatch(ctx, synced); err != nil {
			o.logger.Error("failed to mark events synced", "error", err)
		}
	}
}

// OnWSMessage dispatches an inbound WebSocket message by its "type" field.
// Pass this method as the WSClient's onMessage callback.
func (o *Orchestrator) OnWSMessage(msg map[string]any) {
	msgType, _ := msg["type"].(string)
	switch msgType {
	case "rules_updated":
		o.pollRules(context.Background())

	case "block_app":
		if id, ok := msg["group_id"].(string); ok {
			o.blocker.BlockGroup(id)
			o.blocker.Enforce(context.Background(), o.monitor.CurrentSession())
		}

	case "unblock_app":
		if id, ok := msg["group_id"].(string); ok {
			o.blocker.UnblockGroup(id)
		}

	case "tan_activated", "tan_redeemed":
		o.pollRules(context.Background())

	case "pong", "heartbeat_ack", "ack":
		// no-op

	default:
		o.logger.Debug("unhandled websocket message", "type", msgType)
	}
}

// TryTOTPUnlock validates code against the cached secret, checks the mode
// is allowed, and if so unblocks every currently blocked group for minutes.
func (o *Orchestrator) TryTOTPUnlock(code string, mode core.TotpMode, minutes int) bool {
	o.mu.Lock()
	cfg := o.totpConfig
	o.mu.Unlock()

	if cfg == nil || !cfg.Enabled || cfg.Secret == "" {
		return false
	}
	if !modeAllowed(cfg.Mode, mode) {
		return false
	}

	ok, err := totp.Verify(cfg.Secret, strings.TrimSpace(code), time.Now())
	if err != nil || !ok {
		return false
	}

	o.mu.Lock()
	o.totpOverrideUntil = time.Now().Add(time.Duration(minutes) * time.Minute)
	o.mu.Unlock()

	for _, id := range o.blocker.BlockedGroups() {
		o.blocker.UnblockGroup(id)
	}
	return true
}

func modeAllowed(configured, requested core.TotpMode) bool {
	return configured == core.TotpModeBoth || configured == requested
}
