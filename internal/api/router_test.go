package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"heimdall/internal/api/middleware"
	"heimdall/internal/metrics"
	"heimdall/internal/policy"
	"heimdall/internal/push"
	"heimdall/internal/questengine"
	"heimdall/internal/storage/sqlite"
	"heimdall/internal/tan"
	"heimdall/internal/wsregistry"
)

type routerTestClock struct{ t time.Time }

func (c routerTestClock) Now() time.Time { return c.t }

func TestNewRouter_HealthEndpointServes(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := sqlite.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	defer store.Close()

	clock := routerTestClock{t: time.Now()}
	resolver := policy.NewResolver(store, clock)
	registry := wsregistry.New()
	tans := tan.NewEngine(store, clock)
	quests := questengine.New(store, tans, clock)
	pushOrch := push.New(store, resolver, registry, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	issuer := middleware.NewTokenIssuer([]byte("secret"), time.Minute)

	router := NewRouter(RouterConfig{
		Storage:     store,
		Resolver:    resolver,
		Registry:    registry,
		TokenIssuer: issuer,
		Tans:        tans,
		Quests:      quests,
		Push:        pushOrch,
		Logger:      slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	})

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRouter_AgentRouteRequiresAuth(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := sqlite.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	defer store.Close()

	clock := routerTestClock{t: time.Now()}
	resolver := policy.NewResolver(store, clock)
	registry := wsregistry.New()
	tans := tan.NewEngine(store, clock)
	quests := questengine.New(store, tans, clock)
	pushOrch := push.New(store, resolver, registry, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	issuer := middleware.NewTokenIssuer([]byte("secret"), time.Minute)

	router := NewRouter(RouterConfig{
		Storage:     store,
		Resolver:    resolver,
		Registry:    registry,
		TokenIssuer: issuer,
		Tans:        tans,
		Quests:      quests,
		Push:        pushOrch,
		Logger:      slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	})

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Post(server.URL+"/agent/heartbeat", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewRouter_MetricsEndpointServesWhenWired(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := sqlite.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	defer store.Close()

	clock := routerTestClock{t: time.Now()}
	resolver := policy.NewResolver(store, clock)
	registry := wsregistry.New()
	tans := tan.NewEngine(store, clock)
	quests := questengine.New(store, tans, clock)
	pushOrch := push.New(store, resolver, registry, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	issuer := middleware.NewTokenIssuer([]byte("secret"), time.Minute)
	m := metrics.New(prometheus.NewRegistry())

	router := NewRouter(RouterConfig{
		Storage:     store,
		Resolver:    resolver,
		Registry:    registry,
		TokenIssuer: issuer,
		Tans:        tans,
		Quests:      quests,
		Push:        pushOrch,
		Logger:      slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		Metrics:     m,
	})

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRouter_MetricsEndpointAbsentWhenNotWired(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := sqlite.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	defer store.Close()

	clock := routerTestClock{t: time.Now()}
	resolver := policy.NewResolver(store, clock)
	registry := wsregistry.New()
	tans := tan.NewEngine(store, clock)
	quests := questengine.New(store, tans, clock)
	pushOrch := push.New(store, resolver, registry, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	issuer := middleware.NewTokenIssuer([]byte("secret"), time.Minute)

	router := NewRouter(RouterConfig{
		Storage:     store,
		Resolver:    resolver,
		Registry:    registry,
		TokenIssuer: issuer,
		Tans:        tans,
		Quests:      quests,
		Push:        pushOrch,
		Logger:      slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	})

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
