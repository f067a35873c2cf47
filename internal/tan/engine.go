// Package tan implements TAN code generation and redemption validation,
// carrying the Validate-method-plus-sentinel-error idiom from internal/core
// and using the same plain constructor-injection style as the rest of the
// server's domain packages.
package tan

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"heimdall/internal/core"
	"heimdall/internal/storage"
)

// Defaults for the per-child daily redemption caps.
const (
	DefaultMaxTansPerDay         = 3
	DefaultMaxBonusMinutesPerDay = 90
)

// Blackout window boundaries, in the child's family-local time.
var (
	blackoutStart = 21 * time.Hour
	blackoutEnd   = 6 * time.Hour
)

const maxGenerateRetries = 10

// Redemption failure reasons, surfaced to the API layer as 400/409 with a
// taxonomy code.
var (
	ErrNotActive       = errors.New("tan: not active")
	ErrExpired         = errors.New("tan: expired")
	ErrDailyCapReached = errors.New("tan: daily redemption cap reached")
	ErrBonusCapReached = errors.New("tan: daily bonus-minutes cap reached")
	ErrGroupNotAllowed = errors.New("tan: scoped group does not allow tan redemption")
	ErrBlackoutWindow  = errors.New("tan: blackout window")
	ErrCodeExhausted   = errors.New("tan: exhausted code generation retries")
)

// Engine generates and redeems TANs.
type Engine struct {
	store storage.Storage
	clock Clock

	MaxTansPerDay         int
	MaxBonusMinutesPerDay int
}

// Clock abstracts wall-clock access for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// NewEngine builds a TAN engine with the default daily caps.
func NewEngine(store storage.Storage, clock Clock) *Engine {
	if clock == nil {
		clock = RealClock
	}
	return &Engine{
		store:                 store,
		clock:                 clock,
		MaxTansPerDay:         DefaultMaxTansPerDay,
		MaxBonusMinutesPerDay: DefaultMaxBonusMinutesPerDay,
	}
}

// GenerateCode produces a globally-unique "WORD-NNNN" code, retrying on
// collision up to maxGenerateRetries times.
func (e *Engine) GenerateCode(ctx context.Context) (string, error) {
	for i := 0; i < maxGenerateRetries; i++ {
		word, err := randomWord()
		if err != nil {
			return "", err
		}
		digits, err := randomDigits()
		if err != nil {
			return "", err
		}
		code := fmt.Sprintf("%s-%04d", word, digits)

		_, err = e.store.GetTANByCode(ctx, code)
		if err == storage.ErrNotFound {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		// collision: retry
	}
	return "", ErrCodeExhausted
}

func randomWord() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", err
	}
	return words[n.Int64()], nil
}

func randomDigits() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

// Create mints a new active TAN, generating its code.
func (e *Engine) Create(ctx context.Context, t *core.TAN) error {
	if t.Code == "" {
		code, err := e.GenerateCode(ctx)
		if err != nil {
			return err
		}
		t.Code = code
	}
	if t.Status == "" {
		t.Status = core.TanStatusActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = e.clock.Now()
	}
	return e.store.CreateTAN(ctx, t)
}

// Redeem validates and redeems the TAN identified by code, for a child
// whose family-local timezone is loc. Validation runs in a fixed order;
// the first failing check's error is returned.
func (e *Engine) Redeem(ctx context.Context, code string, loc *time.Location) (*core.TAN, error) {
	t, err := e.store.GetTANByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()

	if t.Status != core.TanStatusActive {
		return nil, ErrNotActive
	}
	if !t.ExpiresAt.After(now) {
		return nil, ErrExpired
	}

	redeemedToday, err := e.store.CountChildRedeemedTANsOnDate(ctx, t.ChildID, now)
	if err != nil {
		return nil, err
	}
	if redeemedToday >= e.MaxTansPerDay {
		return nil, ErrDailyCapReached
	}

	isBonusMinutes := t.Type == core.TanTypeTime && t.ValueMinutes != nil
	var sumToday int
	if isBonusMinutes {
		sumToday, err = e.store.SumChildRedeemedMinutesOnDate(ctx, t.ChildID, now)
		if err != nil {
			return nil, err
		}
		if sumToday+*t.ValueMinutes > e.MaxBonusMinutesPerDay {
			return nil, ErrBonusCapReached
		}
	}

	for _, groupID := range t.ScopeGroups {
		group, err := e.store.GetAppGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if !group.TanAllowed {
			return nil, ErrGroupNotAllowed
		}
		if isBonusMinutes && group.MaxTanBonusPerDay > 0 && sumToday+*t.ValueMinutes > group.MaxTanBonusPerDay {
			return nil, ErrBonusCapReached
		}
	}

	if loc == nil {
		loc = time.UTC
	}
	if inBlackoutWindow(now.In(loc)) {
		return nil, ErrBlackoutWindow
	}

	t.Status = core.TanStatusRedeemed
	t.RedeemedAt = &now
	if err := e.store.UpdateTAN(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// inBlackoutWindow reports whether localNow's time-of-day falls in
// [21:00, 06:00), using half-open interval semantics so 21:00:00 exactly
// is inside the window and 20:59:59 is not.
func inBlackoutWindow(localNow time.Time) bool {
	tod := time.Duration(localNow.Hour())*time.Hour +
		time.Duration(localNow.Minute())*time.Minute +
		time.Duration(localNow.Second())*time.Second
	return tod >= blackoutStart || tod < blackoutEnd
}

// Invalidate moves an active TAN to expired, e.g. on parent-initiated
// cancellation.
func (e *Engine) Invalidate(ctx context.Context, id string) error {
	t, err := e.store.GetTAN(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != core.TanStatusActive {
		return ErrNotActive
	}
	t.Status = core.TanStatusExpired
	return e.store.UpdateTAN(ctx, t)
}
