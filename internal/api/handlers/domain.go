package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"heimdall/internal/api/middleware"
	"heimdall/internal/apierrors"
	"heimdall/internal/metrics"
	"heimdall/internal/push"
	"heimdall/internal/questengine"
	"heimdall/internal/storage"
	"heimdall/internal/tan"
)

// DomainHandler serves the portal-authenticated domain actions that are
// not plain CRUD: redeeming a TAN and working a quest through its review
// pipeline.
type DomainHandler struct {
	store   storage.Storage
	tans    *tan.Engine
	quests  *questengine.Engine
	push    *push.Orchestrator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDomainHandler creates a new domain handler.
func NewDomainHandler(store storage.Storage, tans *tan.Engine, quests *questengine.Engine, pushOrch *push.Orchestrator, logger *slog.Logger) *DomainHandler {
	return &DomainHandler{
		store:  store,
		tans:   tans,
		quests: quests,
		push:   pushOrch,
		logger: logger.With("component", "domain-api"),
	}
}

// SetMetrics wires m into the handler so RedeemTan counts outcomes. A nil
// receiver field (the default) disables it.
func (h *DomainHandler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// tanRedemptionOutcome maps a tan.Redeem error to the TanRedemptions
// "outcome" label, falling back to "error" for anything unrecognized (a
// lookup or storage failure rather than a validation rejection).
func tanRedemptionOutcome(err error) string {
	switch err {
	case tan.ErrNotActive:
		return "not_active"
	case tan.ErrExpired:
		return "expired"
	case tan.ErrDailyCapReached:
		return "daily_cap"
	case tan.ErrBonusCapReached:
		return "bonus_cap"
	case tan.ErrGroupNotAllowed:
		return "group_not_allowed"
	case tan.ErrBlackoutWindow:
		return "blackout_window"
	default:
		return "error"
	}
}

type redeemTanRequest struct {
	Code string `json:"code"`
}

// RedeemTan handles POST /tans/redeem.
func (h *DomainHandler) RedeemTan(c *gin.Context) {
	var req redeemTanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	familyID, _ := c.Get(middleware.FamilyKey)
	family, err := h.store.GetFamily(c.Request.Context(), toString(familyID))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	loc, err := time.LoadLocation(family.Timezone)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	redeemed, err := h.tans.Redeem(c.Request.Context(), req.Code, loc)
	if err != nil {
		if h.metrics != nil {
			h.metrics.TanRedemptions.WithLabelValues(tanRedemptionOutcome(err)).Inc()
		}
		apierrors.Respond(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TanRedemptions.WithLabelValues("success").Inc()
	}

	h.push.NotifyTanActivated(redeemed.ChildID, redeemed)
	h.push.NotifyTanRedeemed(redeemed.ChildID, redeemed)
	if err := h.push.PushRulesToChildDevices(c.Request.Context(), redeemed.ChildID); err != nil {
		h.logger.Error("failed to push rules after tan redemption", "child_id", redeemed.ChildID, "error", err)
	}
	h.push.NotifyParentDashboard(family.ID, redeemed.ChildID, "tan_redeemed")

	c.JSON(http.StatusOK, redeemed)
}

// ClaimQuest handles POST /quests/:id/claim.
func (h *DomainHandler) ClaimQuest(c *gin.Context) {
	inst, err := h.quests.Claim(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

type submitProofRequest struct {
	ProofURL            string `json:"proof_url"`
	AutoDetectedMinutes int    `json:"auto_detected_minutes"`
}

// SubmitQuestProof handles POST /quests/:id/submit-proof.
func (h *DomainHandler) SubmitQuestProof(c *gin.Context) {
	var req submitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	inst, err := h.quests.SubmitProof(c.Request.Context(), c.Param("id"), req.ProofURL, req.AutoDetectedMinutes)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

type reviewQuestRequest struct {
	Approved bool `json:"approved"`
}

// ReviewQuest handles POST /quests/:id/review.
func (h *DomainHandler) ReviewQuest(c *gin.Context) {
	var req reviewQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	reviewerID, _ := c.Get(middleware.UserKey)
	inst, err := h.quests.Review(c.Request.Context(), c.Param("id"), toString(reviewerID), req.Approved)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	if inst.ChildID != "" {
		if err := h.push.PushRulesToChildDevices(c.Request.Context(), inst.ChildID); err != nil {
			h.logger.Error("failed to push rules after quest review", "child_id", inst.ChildID, "error", err)
		}
	}

	c.JSON(http.StatusOK, inst)
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
