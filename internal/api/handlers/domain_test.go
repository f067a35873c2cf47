package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/api/middleware"
	"heimdall/internal/core"
	"heimdall/internal/metrics"
	"heimdall/internal/policy"
	"heimdall/internal/push"
	"heimdall/internal/questengine"
	"heimdall/internal/storage/sqlite"
	"heimdall/internal/tan"
	"heimdall/internal/wsregistry"
)

func setupDomainHandlerStore(t *testing.T) *sqlite.Store {
	tmpDir := t.TempDir()
	store, err := sqlite.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedDomainFamily(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateFamily(ctx, &core.Family{
		ID: "fam1", Name: "Test", Timezone: "UTC", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateUser(ctx, &core.User{
		ID: "child1", FamilyID: "fam1", Role: core.RoleChild, Name: "Child", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateUser(ctx, &core.User{
		ID: "parent1", FamilyID: "fam1", Role: core.RoleParent, Name: "Parent",
		Email: "parent@example.com", CreatedAt: time.Now(),
	}))
}

func withPortalClaims(familyID, userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.FamilyKey, familyID)
		c.Set(middleware.UserKey, userID)
		c.Next()
	}
}

func newTestDomainHandler(store *sqlite.Store, fc fixedAgentClock) *DomainHandler {
	tans := tan.NewEngine(store, fc)
	resolver := policy.NewResolver(store, fc)
	registry := wsregistry.New()
	pushOrch := push.New(store, resolver, registry, testAgentLogger())
	quests := questengine.New(store, tans, fc)
	return NewDomainHandler(store, tans, quests, pushOrch, testAgentLogger())
}

func TestDomainHandler_RedeemTan_IncrementsOutcomeMetric(t *testing.T) {
	store := setupDomainHandlerStore(t)
	seedDomainFamily(t, store)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateTAN(context.Background(), &core.TAN{
		ID: "tan1", ChildID: "child1", Code: "HERO-1234", Type: core.TanTypeTime,
		ExpiresAt: now.Add(time.Hour), Status: core.TanStatusActive, CreatedAt: now,
	}))

	h := newTestDomainHandler(store, fixedAgentClock{t: now})
	m := metrics.New(prometheus.NewRegistry())
	h.SetMetrics(m)

	r := gin.New()
	r.Use(withPortalClaims("fam1", "parent1"))
	r.POST("/tans/redeem", h.RedeemTan)

	body, _ := json.Marshal(map[string]any{"code": "HERO-1234"})
	req := httptest.NewRequest(http.MethodPost, "/tans/redeem", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TanRedemptions.WithLabelValues("success")))

	body, _ = json.Marshal(map[string]any{"code": "NOPE-0000"})
	req = httptest.NewRequest(http.MethodPost, "/tans/redeem", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TanRedemptions.WithLabelValues("error")))
}

func TestDomainHandler_RedeemTan_Success(t *testing.T) {
	store := setupDomainHandlerStore(t)
	seedDomainFamily(t, store)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateTAN(context.Background(), &core.TAN{
		ID: "tan1", ChildID: "child1", Code: "HERO-1234", Type: core.TanTypeTime,
		ExpiresAt: now.Add(time.Hour), Status: core.TanStatusActive, CreatedAt: now,
	}))

	h := newTestDomainHandler(store, fixedAgentClock{t: now})
	r := gin.New()
	r.Use(withPortalClaims("fam1", "parent1"))
	r.POST("/tans/redeem", h.RedeemTan)

	body, _ := json.Marshal(map[string]any{"code": "HERO-1234"})
	req := httptest.NewRequest(http.MethodPost, "/tans/redeem", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp core.TAN
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, core.TanStatusRedeemed, resp.Status)
}

func TestDomainHandler_RedeemTan_UnknownCodeReturnsNotFound(t *testing.T) {
	store := setupDomainHandlerStore(t)
	seedDomainFamily(t, store)

	h := newTestDomainHandler(store, fixedAgentClock{t: time.Now()})
	r := gin.New()
	r.Use(withPortalClaims("fam1", "parent1"))
	r.POST("/tans/redeem", h.RedeemTan)

	body, _ := json.Marshal(map[string]any{"code": "NOPE-0000"})
	req := httptest.NewRequest(http.MethodPost, "/tans/redeem", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDomainHandler_RedeemTan_InvalidBodyReturnsBadRequest(t *testing.T) {
	store := setupDomainHandlerStore(t)
	seedDomainFamily(t, store)

	h := newTestDomainHandler(store, fixedAgentClock{t: time.Now()})
	r := gin.New()
	r.Use(withPortalClaims("fam1", "parent1"))
	r.POST("/tans/redeem", h.RedeemTan)

	req := httptest.NewRequest(http.MethodPost, "/tans/redeem", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainHandler_ClaimQuest_Success(t *testing.T) {
	store := setupDomainHandlerStore(t)
	seedDomainFamily(t, store)

	now := time.Now()
	require.NoError(t, store.CreateQuestTemplate(context.Background(), &core.QuestTemplate{
		ID: "tmpl1", FamilyID: "fam1", Name: "Clean room", ProofType: core.ProofParentConfirm,
		Recurrence: core.QuestOnce, RewardMinutes: 20, Active: true, CreatedAt: now,
	}))
	require.NoError(t, store.CreateQuestInstance(context.Background(), &core.QuestInstance{
		ID: "inst1", TemplateID: "tmpl1", ChildID: "child1", Status: core.QuestAvailable,
		CreatedAt: now,
	}))

	h := newTestDomainHandler(store, fixedAgentClock{t: now})
	r := gin.New()
	r.Use(withPortalClaims("fam1", "child1"))
	r.POST("/quests/:id/claim", h.ClaimQuest)

	req := httptest.NewRequest(http.MethodPost, "/quests/inst1/claim", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp core.QuestInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, core.QuestClaimed, resp.Status)
}

func TestDomainHandler_ClaimQuest_UnknownIDReturnsNotFound(t *testing.T) {
	store := setupDomainHandlerStore(t)
	seedDomainFamily(t, store)

	h := newTestDomainHandler(store, fixedAgentClock{t: time.Now()})
	r := gin.New()
	r.Use(withPortalClaims("fam1", "child1"))
	r.POST("/quests/:id/claim", h.ClaimQuest)

	req := httptest.NewRequest(http.MethodPost, "/quests/nonexistent/claim", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDomainHandler_SubmitQuestProof_SetsPendingReview(t *testing.T) {
	store := setupDomainHandlerStore(t)
	seedDomainFamily(t, store)

	now := time.Now()
	require.NoError(t, store.CreateQuestTemplate(context.Background(), &core.QuestTemplate{
		ID: "tmpl1", FamilyID: "fam1", Name: "Clean room", ProofType: core.ProofParentConfirm,
		Recurrence: core.QuestOnce, RewardMinutes: 20, Active: true, CreatedAt: now,
	}))
	require.NoError(t, store.CreateQuestInstance(context.Background(), &core.QuestInstance{
		ID: "inst1", TemplateID: "tmpl1", ChildID: "child1", Status: core.QuestClaimed,
		CreatedAt: now,
	}))

	h := newTestDomainHandler(store, fixedAgentClock{t: now})
	r := gin.New()
	r.Use(withPortalClaims("fam1", "child1"))
	r.POST("/quests/:id/submit-proof", h.SubmitQuestProof)

	body, _ := json.Marshal(map[string]any{"proof_url": "https://example.com/proof.jpg"})
	req := httptest.NewRequest(http.MethodPost, "/quests/inst1/submit-proof", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp core.QuestInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, core.QuestPendingReview, resp.Status)
}

func TestDomainHandler_ReviewQuest_ApprovedMintsTan(t *testing.T) {
	store := setupDomainHandlerStore(t)
	seedDomainFamily(t, store)

	now := time.Now()
	require.NoError(t, store.CreateQuestTemplate(context.Background(), &core.QuestTemplate{
		ID: "tmpl1", FamilyID: "fam1", Name: "Clean room", ProofType: core.ProofParentConfirm,
		Recurrence: core.QuestOnce, RewardMinutes: 20, Active: true, CreatedAt: now,
	}))
	require.NoError(t, store.CreateQuestInstance(context.Background(), &core.QuestInstance{
		ID: "inst1", TemplateID: "tmpl1", ChildID: "child1", Status: core.QuestPendingReview,
		CreatedAt: now,
	}))

	h := newTestDomainHandler(store, fixedAgentClock{t: now})
	r := gin.New()
	r.Use(withPortalClaims("fam1", "parent1"))
	r.POST("/quests/:id/review", h.ReviewQuest)

	body, _ := json.Marshal(map[string]any{"approved": true})
	req := httptest.NewRequest(http.MethodPost, "/quests/inst1/review", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp core.QuestInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, core.QuestApproved, resp.Status)
	assert.NotEmpty(t, resp.GeneratedTanID)
}
