// Package throttle guards users against intervention fatigue with three
// independent checks: cooldown since the last intervention, a rolling
// daily cap, and engagement-based suppression.
package throttle

import (
	"context"
	"time"

	"github.com/vibecoderz/mentor/internal/cache"
	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/logger"
)

const (
	ReasonCooldown      = "cooldown_active"
	ReasonDailyCap      = "daily_cap_reached"
	ReasonLowEngagement = "low_engagement"
)

// Verdict lists every failed check; an empty list allows the candidate.
type Verdict struct {
	Reasons []string
}

func (v Verdict) Allowed() bool { return len(v.Reasons) == 0 }

type Gate struct {
	cfg     config.InterventionConfig
	counter cache.Counter
	log     *logger.Logger
}

func New(cfg config.InterventionConfig, counter cache.Counter, log *logger.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		counter: counter,
		log:     log.With("service", "throttle"),
	}
}

// SharedCount reads the cross-instance rolling counter for a user. The
// read may hit the network, so callers take it before entering the
// user's turn. An unavailable counter reads as zero; the profile's own
// records still enforce the cap.
func (g *Gate) SharedCount(ctx context.Context, userID string) int {
	shared, err := g.counter.Count(ctx, userID)
	if err != nil {
		g.log.Warn("shared counter unavailable", "user_id", userID, "error", err)
		return 0
	}
	return int(shared)
}

// Check evaluates all three checks against the profile as of now. The
// profile's own intervention records are authoritative; sharedCount, a
// pre-turn SharedCount read, can only tighten the daily cap (other
// instances may have intervened for this user since our records were
// written).
func (g *Gate) Check(profile *model.UserLearningProfile, now time.Time, sharedCount int) Verdict {
	var v Verdict

	if last := profile.LastIntervention(); last != nil {
		if now.Sub(last.DeliveredAt) < g.cfg.Cooldown() {
			v.Reasons = append(v.Reasons, ReasonCooldown)
		}
	}

	today := profile.InterventionsSince(now.Add(-24 * time.Hour))
	if sharedCount > today {
		today = sharedCount
	}
	if today >= g.cfg.MaxDaily {
		v.Reasons = append(v.Reasons, ReasonDailyCap)
	}

	if profile.Engagement < g.cfg.EngagementThreshold {
		v.Reasons = append(v.Reasons, ReasonLowEngagement)
	}

	return v
}

// RecordIntervention bumps the shared rolling counter. Called only after
// the intervention record has been durably appended, so a failed
// generation never consumes budget.
func (g *Gate) RecordIntervention(ctx context.Context, userID string) {
	if _, err := g.counter.Incr(ctx, userID, 24*time.Hour); err != nil {
		g.log.Warn("failed to bump shared counter", "user_id", userID, "error", err)
	}
}
