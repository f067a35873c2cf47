package orchestrator

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/agent/blocker"
	"heimdall/internal/agent/comm"
	"heimdall/internal/agent/monitor"
	"heimdall/internal/agent/offlinecache"
	"heimdall/internal/agentconfig"
	"heimdall/internal/core"
	"heimdall/internal/policy"
	"heimdall/internal/totp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testOrchestrator(t *testing.T, restBaseURL string) *Orchestrator {
	cfg := agentconfig.DefaultConfig()
	cfg.ServerURL = restBaseURL
	cfg.DeviceID = "device-1"
	cfg.DeviceToken = "tok"

	tmpDir := t.TempDir()
	cache, err := offlinecache.Open(filepath.Join(tmpDir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	mon := monitor.New(&noopPlatform{}, time.Hour, cfg.GroupForExecutable, nil, testLogger())
	blk := blocker.New(nil, testLogger())
	rest := comm.NewRESTClient(restBaseURL, "", "tok")
	ws, err := comm.NewWSClient(restBaseURL, "tok", time.Hour, nil, testLogger())
	require.NoError(t, err)

	return New(cfg, mon, blk, rest, ws, cache, testLogger())
}

type noopPlatform struct{}

func (noopPlatform) ForegroundDescriptor() (monitor.Descriptor, error) {
	return monitor.Descriptor{}, nil
}

func TestOrchestrator_RunRequiresRegistration(t *testing.T) {
	cfg := agentconfig.DefaultConfig()
	cfg.ServerURL = "https://example.com"
	cfg.DeviceID = "device-1"
	// no DeviceToken set

	tmpDir := t.TempDir()
	cache, err := offlinecache.Open(filepath.Join(tmpDir, "cache.db"))
	require.NoError(t, err)
	defer cache.Close()

	mon := monitor.New(&noopPlatform{}, time.Hour, cfg.GroupForExecutable, nil, testLogger())
	blk := blocker.New(nil, testLogger())
	rest := comm.NewRESTClient(cfg.ServerURL, "", "")
	ws, err := comm.NewWSClient(cfg.ServerURL, "", time.Hour, nil, testLogger())
	require.NoError(t, err)

	orch := New(cfg, mon, blk, rest, ws, cache, testLogger())
	err = orch.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestOrchestrator_ApplyRulesBlocksOverLimitGroup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	orch := testOrchestrator(t, server.URL)
	orch.addGroupUsage("games", 20*60) // 20 minutes used

	orch.applyRules(&policy.ResolvedRules{
		GroupLimits: []core.GroupLimit{{GroupID: "games", MaxMinutes: 15}},
	})

	assert.True(t, orch.blocker.IsBlocked("games"))
	assert.Equal(t, TrayBlocked, orch.TrayState())
}

func TestOrchestrator_ApplyRulesUnblocksUnderLimitGroup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	orch := testOrchestrator(t, server.URL)
	orch.blocker.BlockGroup("games")
	orch.addGroupUsage("games", 5*60)

	orch.applyRules(&policy.ResolvedRules{
		GroupLimits: []core.GroupLimit{{GroupID: "games", MaxMinutes: 30}},
	})

	assert.False(t, orch.blocker.IsBlocked("games"))
}

func TestOrchestrator_ApplyRulesSetsWarningNearLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	orch := testOrchestrator(t, server.URL)
	orch.setOnline(true)
	orch.addGroupUsage("games", 27*60) // 3 minutes remaining out of 30

	orch.applyRules(&policy.ResolvedRules{
		GroupLimits: []core.GroupLimit{{GroupID: "games", MaxMinutes: 30}},
	})

	assert.Equal(t, TrayWarning, orch.TrayState())
}

func TestOrchestrator_OnWSMessageBlockApp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	orch := testOrchestrator(t, server.URL)
	orch.OnWSMessage(map[string]any{"type": "block_app", "group_id": "games"})

	assert.True(t, orch.blocker.IsBlocked("games"))
}

func TestOrchestrator_OnWSMessageUnblockApp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	orch := testOrchestrator(t, server.URL)
	orch.blocker.BlockGroup("games")
	orch.OnWSMessage(map[string]any{"type": "unblock_app", "group_id": "games"})

	assert.False(t, orch.blocker.IsBlocked("games"))
}

func TestOrchestrator_OnWSMessageUnknownTypeIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	orch := testOrchestrator(t, server.URL)
	assert.NotPanics(t, func() {
		orch.OnWSMessage(map[string]any{"type": "something_new"})
	})
}

func TestOrchestrator_TryTOTPUnlockSucceedsWithValidCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	secret, err := totp.GenerateSecret()
	require.NoError(t, err)
	code, err := totp.Generate(secret, time.Now())
	require.NoError(t, err)

	orch := testOrchestrator(t, server.URL)
	orch.totpConfig = &policy.TotpConfig{
		Enabled: true,
		Secret:  secret,
		Mode:    core.TotpModeOverride,
	}
	orch.blocker.BlockGroup("games")

	ok := orch.TryTOTPUnlock(code, core.TotpModeOverride, 10)
	assert.True(t, ok)
	assert.False(t, orch.blocker.IsBlocked("games"))
}

func TestOrchestrator_TryTOTPUnlockFailsWithWrongCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	secret, err := totp.GenerateSecret()
	require.NoError(t, err)

	orch := testOrchestrator(t, server.URL)
	orch.totpConfig = &policy.TotpConfig{
		Enabled: true,
		Secret:  secret,
		Mode:    core.TotpModeOverride,
	}

	ok := orch.TryTOTPUnlock("000000", core.TotpModeOverride, 10)
	assert.False(t, ok)
}

func TestOrchestrator_TryTOTPUnlockFailsWhenModeMismatched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	secret, err := totp.GenerateSecret()
	require.NoError(t, err)
	code, err := totp.Generate(secret, time.Now())
	require.NoError(t, err)

	orch := testOrchestrator(t, server.URL)
	orch.totpConfig = &policy.TotpConfig{
		Enabled: true,
		Secret:  secret,
		Mode:    core.TotpModeTan,
	}

	ok := orch.TryTOTPUnlock(code, core.TotpModeOverride, 10)
	assert.False(t, ok)
}

func TestOrchestrator_TryTOTPUnlockAllowsBothMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	secret, err := totp.GenerateSecret()
	require.NoError(t, err)
	code, err := totp.Generate(secret, time.Now())
	require.NoError(t, err)

	orch := testOrchestrator(t, server.URL)
	orch.totpConfig = &policy.TotpConfig{
		Enabled: true,
		Secret:  secret,
		Mode:    core.TotpModeBoth,
	}

	assert.True(t, orch.TryTOTPUnlock(code, core.TotpModeTan, 5))
}

func TestOrchestrator_OnAppChangeQueuesOfflineOnRESTFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	orch := testOrchestrator(t, server.URL)
	session := &monitor.AppSession{Executable: "chrome.exe", AppGroupID: "browsers", StartedAt: time.Now().Add(-time.Minute)}

	orch.OnAppChange(nil, session)

	count, err := orch.cache.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, TrayOffline, orch.TrayState())
}

func TestOrchestrator_OnAppChangeSucceedsOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer server.Close()

	orch := testOrchestrator(t, server.URL)
	session := &monitor.AppSession{Executable: "chrome.exe", AppGroupID: "browsers", StartedAt: time.Now()}

	orch.OnAppChange(nil, session)

	count, err := orch.cache.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
