// Package apierrors maps internal sentinel errors to the HTTP status and
// machine-readable code taxonomy every handler returns, collecting the
// inline gin.H{"error":..., "code":...} pattern each handler would
// otherwise repeat into one lookup table.
package apierrors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"heimdall/internal/core"
	"heimdall/internal/storage"
	"heimdall/internal/tan"
)

// Response is the JSON body every error path returns.
type Response struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var table = []struct {
	err    error
	status int
	code   string
}{
	{storage.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{storage.ErrConflict, http.StatusConflict, "CONFLICT"},
	{tan.ErrNotActive, http.StatusConflict, "TAN_NOT_ACTIVE"},
	{tan.ErrExpired, http.StatusConflict, "TAN_EXPIRED"},
	{tan.ErrDailyCapReached, http.StatusConflict, "TAN_DAILY_CAP_REACHED"},
	{tan.ErrBonusCapReached, http.StatusConflict, "TAN_BONUS_CAP_REACHED"},
	{tan.ErrGroupNotAllowed, http.StatusConflict, "TAN_GROUP_NOT_ALLOWED"},
	{tan.ErrBlackoutWindow, http.StatusConflict, "TAN_BLACKOUT_WINDOW"},
	{tan.ErrCodeExhausted, http.StatusInternalServerError, "TAN_CODE_EXHAUSTED"},
	{core.ErrMissingID, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrMissingFamilyID, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrMissingChildID, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrMissingName, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrMissingTimezone, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidRole, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidDeviceType, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidStatus, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrEmptyDayTypes, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrEmptyDeviceIDs, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrMissingAppRef, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidTanType, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidTanSource, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrNegativeMinutes, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidProofType, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidRecurrence, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidTrigger, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidStreakDays, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrInvalidEventType, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrNegativeDuration, http.StatusBadRequest, "VALIDATION_ERROR"},
	{core.ErrMissingCode, http.StatusBadRequest, "VALIDATION_ERROR"},
}

// Lookup resolves a status code and taxonomy code for err, defaulting to
// 500/INTERNAL_ERROR for anything unrecognized, such as transport or
// database failures.
func Lookup(err error) (int, string) {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// Respond writes the mapped error response and aborts the gin context.
func Respond(c *gin.Context, err error) {
	status, code := Lookup(err)
	c.AbortWithStatusJSON(status, Response{Error: err.Error(), Code: code})
}
