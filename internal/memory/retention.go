package memory

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/logger"
)

// Sweeper runs the retention and anonymization pass on a cron schedule.
// Each user is swept inside a normal store turn, so a sweep never
// observes a profile mid-mutation.
type Sweeper struct {
	store *Store
	cfg   config.RetentionConfig
	log   *logger.Logger
	cron  *cron.Cron
}

func NewSweeper(store *Store, cfg config.RetentionConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{
		store: store,
		cfg:   cfg,
		log:   log.With("service", "retention"),
	}
}

// Start schedules the sweep. The schedule string uses cron syntax or the
// @every shorthand.
func (w *Sweeper) Start() error {
	w.cron = cron.New()
	_, err := w.cron.AddFunc(w.cfg.SweepSchedule, func() {
		w.RunOnce(w.store.Clock())
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	w.log.Info("retention sweep scheduled", "schedule", w.cfg.SweepSchedule)
	return nil
}

func (w *Sweeper) Stop() {
	if w.cron != nil {
		w.cron.Stop()
	}
}

// RunOnce sweeps every known user and reports how many records were
// removed and anonymized.
func (w *Sweeper) RunOnce(now time.Time) (removed, anonymized int) {
	for _, uid := range w.store.Users() {
		r, a, err := w.store.SweepUser(uid, now, w.cfg)
		if err != nil {
			w.log.Warn("sweep skipped", "user_id", uid, "error", err)
			continue
		}
		removed += r
		anonymized += a
	}
	if removed > 0 || anonymized > 0 {
		w.log.Info("retention sweep done", "removed", removed, "anonymized", anonymized)
	}
	return removed, anonymized
}

// SweepUser applies the retention policy to one user: struggle records
// and never-finalized interventions age out after the active window,
// finalized interventions after the completed window. Retired records
// older than the sensitive window keep their shape but lose contextual
// payload. Aggregate EventCounts are never touched, so pattern
// statistics survive record removal.
func (s *Store) SweepUser(userID string, now time.Time, cfg config.RetentionConfig) (removed, anonymized int, err error) {
	var droppedStruggles, droppedInterventions []string
	err = s.Turn(userID, func(t *Txn) error {
		kept := t.u.profile.Struggles[:0]
		for _, rec := range t.u.profile.Struggles {
			age := now.Sub(rec.ObservedAt)
			if age > cfg.ActiveWindow() {
				droppedStruggles = append(droppedStruggles, rec.ID)
				delete(t.u.struggleRevs, rec.ID)
				removed++
				continue
			}
			if !rec.Anonymized && rec.Resolution != model.ResolutionUnresolved && age > cfg.SensitiveWindow() {
				rec.Payload = model.EventPayload{}
				rec.Anonymized = true
				anonymizeStruggleRevs(t.u.struggleRevs[rec.ID])
				anonymized++
			}
			kept = append(kept, rec)
		}
		t.u.profile.Struggles = kept

		keptIv := t.u.profile.Interventions[:0]
		for _, rec := range t.u.profile.Interventions {
			age := now.Sub(rec.ObservedAt)
			window := cfg.ActiveWindow()
			if rec.Finalized() {
				window = cfg.CompletedWindow()
			}
			if age > window {
				droppedInterventions = append(droppedInterventions, rec.ID)
				delete(t.u.interventionRevs, rec.ID)
				removed++
				continue
			}
			keptIv = append(keptIv, rec)
		}
		t.u.profile.Interventions = keptIv
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	for _, id := range droppedStruggles {
		delete(s.byStruggle, id)
	}
	for _, id := range droppedInterventions {
		delete(s.byIntervention, id)
	}
	s.mu.Unlock()
	return removed, anonymized, nil
}

func anonymizeStruggleRevs(revs []model.StruggleRecord) {
	for i := range revs {
		revs[i].Payload = model.EventPayload{}
		revs[i].Anonymized = true
	}
}
