// Package push implements the rule-push orchestrator: the glue invoked
// after any mutation of TimeRule, AppGroup, AppGroupApp, DeviceCoupling,
// or TAN redemption/invalidation, built with plain constructor injection.
package push

import (
	"context"
	"log/slog"

	"heimdall/internal/core"
	"heimdall/internal/metrics"
	"heimdall/internal/policy"
	"heimdall/internal/storage"
	"heimdall/internal/wsregistry"
)

// Orchestrator pushes fresh rules and notifications to connected sockets.
type Orchestrator struct {
	store    storage.Storage
	resolver *policy.Resolver
	registry *wsregistry.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// New builds a push Orchestrator.
func New(store storage.Storage, resolver *policy.Resolver, registry *wsregistry.Registry, log *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, resolver: resolver, registry: registry, log: log}
}

// SetMetrics wires m into the orchestrator so PushRulesToChildDevices counts
// successful pushes. A nil receiver field (the default) disables it.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// appGroupMapForChild builds the lowercased executable/package -> group id
// map embedded in every rules_updated payload.
func (o *Orchestrator) appGroupMapForChild(ctx context.Context, childID string) (map[string]string, error) {
	groups, err := o.store.ListChildAppGroups(ctx, childID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, g := range groups {
		apps, err := o.store.ListGroupApps(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range apps {
			if a.AppExecutable != "" {
				out[lower(a.AppExecutable)] = g.ID
			}
			if a.AppPackage != "" {
				out[lower(a.AppPackage)] = g.ID
			}
		}
	}
	return out, nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// PushRulesToChildDevices enumerates every device of childID, resolves
// fresh (cache-bypassed) rules per device, and emits rules_updated to each
// connected socket. Devices with no open socket silently keep their cached
// policy until their next poll.
func (o *Orchestrator) PushRulesToChildDevices(ctx context.Context, childID string) error {
	devices, err := o.store.ListChildDevices(ctx, childID)
	if err != nil {
		return err
	}
	appGroupMap, err := o.appGroupMapForChild(ctx, childID)
	if err != nil {
		return err
	}

	for _, d := range devices {
		o.resolver.InvalidateDevice(d.ID)
		rules, err := o.resolver.Resolve(ctx, d.ID, true)
		if err != nil {
			o.log.Error("push: resolve failed", "device_id", d.ID, "error", err)
			continue
		}
		rules.AppGroupMap = appGroupMap

		if o.registry.SendToDevice(d.ID, wsregistry.NewMessage("rules_updated", map[string]any{
			"rules": rules,
		})) {
			if o.metrics != nil {
				o.metrics.RulesPushed.Inc()
			}
		} else {
			o.log.Debug("push: device not connected, skipping", "device_id", d.ID)
		}
	}
	return nil
}

// NotifyTanActivated emits tan_activated to every device of childID.
func (o *Orchestrator) NotifyTanActivated(childID string, t *core.TAN) {
	o.registry.SendToChildDevices(childID, wsregistry.NewMessage("tan_activated", map[string]any{
		"tan_id":        t.ID,
		"tan_type":      t.Type,
		"value_minutes": t.ValueMinutes,
		"expires_at":    t.ExpiresAt,
	}))
}

// NotifyTanRedeemed emits tan_redeemed to every device of childID.
func (o *Orchestrator) NotifyTanRedeemed(childID string, t *core.TAN) {
	o.registry.SendToChildDevices(childID, wsregistry.NewMessage("tan_redeemed", map[string]any{
		"tan_id": t.ID,
	}))
}

// NotifyParentDashboard emits an invalidate message to every connected
// parent socket for familyID so the portal invalidates cached queries.
func (o *Orchestrator) NotifyParentDashboard(familyID, childID, eventType string) {
	keys := [][]string{{eventType}}
	if childID != "" {
		keys = append(keys, []string{eventType, childID})
	}
	o.registry.NotifyParents(familyID, wsregistry.NewMessage("invalidate", map[string]any{
		"keys": keys,
	}))
}
