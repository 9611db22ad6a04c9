// Package memory implements the bi-temporal per-user learning profile
// store. Every mutation appends a new revision of the affected record
// instead of overwriting, so the store can answer "what did the system
// know at time T" queries. All mutations for one user are serialized
// behind a per-user mutex; independent users proceed in parallel.
package memory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/logger"
)

var (
	// ErrStoreClosed marks the store unavailable; in-flight events should
	// be requeued upstream rather than dropped.
	ErrStoreClosed = errors.New("memory store closed")

	// ErrStaleFeedback marks feedback for an unknown or already finalized
	// intervention. Callers log and discard it.
	ErrStaleFeedback = errors.New("stale feedback signal")

	// ErrUnknownUser is returned for lookups that must not lazily create.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownRecord is returned when a record id has no revisions.
	ErrUnknownRecord = errors.New("unknown record")

	// ErrBackwardTransition guards the forward-only resolution lifecycle.
	ErrBackwardTransition = errors.New("backward resolution transition")
)

type userState struct {
	mu      sync.Mutex
	profile *model.UserLearningProfile

	// Append-only revision logs, keyed by record id. The slices are
	// ordered by observation time; profile holds the latest revision of
	// each record.
	struggleRevs     map[string][]model.StruggleRecord
	interventionRevs map[string][]model.InterventionRecord

	lastObserved time.Time
}

// Store owns every UserLearningProfile. Profiles are created lazily on
// first access and removed only by privacy deletion or retention sweep.
type Store struct {
	// Clock may be replaced before use to make observation times
	// deterministic in tests.
	Clock func() time.Time

	cfg config.InterventionConfig
	log *logger.Logger

	mu             sync.Mutex
	users          map[string]*userState
	byStruggle     map[string]string // struggle id -> user id
	byIntervention map[string]string // intervention id -> user id
	closed         bool
}

func New(cfg config.InterventionConfig, log *logger.Logger) *Store {
	return &Store{
		Clock:          func() time.Time { return time.Now().UTC() },
		cfg:            cfg,
		log:            log.With("service", "memory"),
		users:          make(map[string]*userState),
		byStruggle:     make(map[string]string),
		byIntervention: make(map[string]string),
	}
}

func (s *Store) userLocked(userID string) *userState {
	u, ok := s.users[userID]
	if !ok {
		u = &userState{
			profile: &model.UserLearningProfile{
				UserID:             userID,
				CreatedAt:          s.Clock(),
				LearningVelocity:   0.5,
				Engagement:         s.cfg.InitialEngagement,
				Knowledge:          model.NewKnowledgeGraph(),
				TopicEffectiveness: make(map[string]float64),
				EventCounts:        make(map[model.EventKind]int),
			},
			struggleRevs:     make(map[string][]model.StruggleRecord),
			interventionRevs: make(map[string][]model.InterventionRecord),
		}
		s.users[userID] = u
	}
	return u
}

// Txn is one exclusive turn over a single user's state. It is only valid
// inside the function passed to Turn; pointers obtained from it must not
// be retained after the turn ends.
type Txn struct {
	s   *Store
	u   *userState
	now time.Time
}

// Turn acquires the user's mutex, creating the profile on first access,
// and runs fn with exclusive access. The observation time for the turn
// is fixed at entry and is monotonically non-decreasing per user.
func (s *Store) Turn(userID string, fn func(*Txn) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	u := s.userLocked(userID)
	s.mu.Unlock()

	u.mu.Lock()
	defer u.mu.Unlock()

	now := s.Clock()
	if now.Before(u.lastObserved) {
		now = u.lastObserved
	}
	u.lastObserved = now

	return fn(&Txn{s: s, u: u, now: now})
}

// Now is the observation time fixed for this turn.
func (t *Txn) Now() time.Time { return t.now }

// Profile returns the live profile. Scalar fields (engagement, velocity,
// preferences, knowledge graph, topic effectiveness) may be mutated
// directly under the turn; record slices must only change through the
// Append/Update methods so revision logs stay consistent.
func (t *Txn) Profile() *model.UserLearningProfile { return t.u.profile }

// Snapshot returns a deep copy safe to use after the turn ends.
func (t *Txn) Snapshot() *model.UserLearningProfile { return t.u.profile.Clone() }

// AppendStruggle writes the first revision of a new struggle record.
// Missing id, user, observation time and resolution are filled in.
func (t *Txn) AppendStruggle(rec *model.StruggleRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.UserID = t.u.profile.UserID
	rec.ObservedAt = t.now
	if rec.Resolution == "" {
		rec.Resolution = model.ResolutionUnresolved
	}

	t.u.struggleRevs[rec.ID] = append(t.u.struggleRevs[rec.ID], *rec)
	t.u.profile.Struggles = append(t.u.profile.Struggles, *rec)
	t.u.profile.EventCounts[rec.Kind]++

	t.s.mu.Lock()
	t.s.byStruggle[rec.ID] = rec.UserID
	t.s.mu.Unlock()
}

// AppendIntervention writes the first revision of a new intervention
// record. The caller must only invoke this after the artifact exists;
// throttle counters key off the records appended here.
func (t *Txn) AppendIntervention(rec *model.InterventionRecord) {
	if rec.ID == "" {
		rec.ID = "int_" + uuid.NewString()
	}
	rec.UserID = t.u.profile.UserID
	rec.ObservedAt = t.now
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = t.now
	}

	t.u.interventionRevs[rec.ID] = append(t.u.interventionRevs[rec.ID], *rec)
	t.u.profile.Interventions = append(t.u.profile.Interventions, *rec)

	t.s.mu.Lock()
	t.s.byIntervention[rec.ID] = rec.UserID
	t.s.mu.Unlock()
}

// UpdateStruggleResolution appends a revision carrying a forward-only
// resolution transition and/or an effectiveness score. Setting a score
// on a record already in the target state is allowed (late feedback).
func (t *Txn) UpdateStruggleResolution(struggleID string, res model.Resolution, score *float64) error {
	revs, ok := t.u.struggleRevs[struggleID]
	if !ok {
		return ErrUnknownRecord
	}
	latest := revs[len(revs)-1]
	if latest.Resolution != res && !latest.Resolution.CanTransitionTo(res) {
		return ErrBackwardTransition
	}

	next := latest
	next.Resolution = res
	if score != nil {
		v := clamp01(*score)
		next.Effectiveness = &v
	}
	next.ObservedAt = t.now
	t.u.struggleRevs[struggleID] = append(revs, next)
	t.replaceStruggle(next)
	return nil
}

// FinalizeIntervention applies engagement metrics to an intervention
// exactly once. A second call returns ErrStaleFeedback and leaves the
// record untouched.
func (t *Txn) FinalizeIntervention(interventionID string, m model.EngagementMetrics) (*model.InterventionRecord, error) {
	revs, ok := t.u.interventionRevs[interventionID]
	if !ok {
		return nil, ErrStaleFeedback
	}
	latest := revs[len(revs)-1]
	if latest.Finalized() {
		return nil, ErrStaleFeedback
	}

	next := latest
	mc := m
	next.Metrics = &mc
	next.ObservedAt = t.now
	t.u.interventionRevs[interventionID] = append(revs, next)
	t.replaceIntervention(next)

	out := next
	return &out, nil
}

// RecentStruggles returns the latest revisions of the user's struggles
// of the given kind observed within the window, most recent first. A
// zero kind matches every kind.
func (t *Txn) RecentStruggles(kind model.EventKind, window time.Duration) []model.StruggleRecord {
	cutoff := t.now.Add(-window)
	var out []model.StruggleRecord
	for i := len(t.u.profile.Struggles) - 1; i >= 0; i-- {
		rec := t.u.profile.Struggles[i]
		if kind != "" && rec.Kind != kind {
			continue
		}
		if rec.ObservedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (t *Txn) replaceStruggle(rec model.StruggleRecord) {
	for i := range t.u.profile.Struggles {
		if t.u.profile.Struggles[i].ID == rec.ID {
			t.u.profile.Struggles[i] = rec
			return
		}
	}
}

func (t *Txn) replaceIntervention(rec model.InterventionRecord) {
	for i := range t.u.profile.Interventions {
		if t.u.profile.Interventions[i].ID == rec.ID {
			t.u.profile.Interventions[i] = rec
			return
		}
	}
}

// GetProfile returns a snapshot of the user's profile, creating an empty
// profile on first access.
func (s *Store) GetProfile(userID string) (*model.UserLearningProfile, error) {
	var snap *model.UserLearningProfile
	err := s.Turn(userID, func(t *Txn) error {
		snap = t.Snapshot()
		return nil
	})
	return snap, err
}

// HasUser reports whether a profile already exists, without creating one.
func (s *Store) HasUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok
}

// UserForIntervention resolves which user an intervention belongs to.
// Unknown ids map to ErrStaleFeedback: the signal either predates this
// process or refers to a record retention already removed.
func (s *Store) UserForIntervention(interventionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	uid, ok := s.byIntervention[interventionID]
	if !ok {
		return "", ErrStaleFeedback
	}
	return uid, nil
}

// UserForStruggle resolves which user a struggle record belongs to.
func (s *Store) UserForStruggle(struggleID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	uid, ok := s.byStruggle[struggleID]
	if !ok {
		return "", ErrUnknownRecord
	}
	return uid, nil
}

// UpdateStruggleResolution is the id-keyed convenience form used by
// callers outside an open turn.
func (s *Store) UpdateStruggleResolution(struggleID string, res model.Resolution, score *float64) error {
	uid, err := s.UserForStruggle(struggleID)
	if err != nil {
		return err
	}
	return s.Turn(uid, func(t *Txn) error {
		return t.UpdateStruggleResolution(struggleID, res, score)
	})
}

// Users returns all known user ids in stable order.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Totals reports aggregate counts for the status endpoint.
func (s *Store) Totals() (users, events, interventions int) {
	for _, id := range s.Users() {
		_ = s.Turn(id, func(t *Txn) error {
			p := t.Profile()
			users++
			for _, n := range p.EventCounts {
				events += n
			}
			interventions += len(p.Interventions)
			return nil
		})
	}
	return users, events, interventions
}

// DeleteUser removes a profile and all its records. This is the explicit
// privacy-deletion path; it waits for any in-flight turn on the user.
func (s *Store) DeleteUser(userID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	u, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownUser
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	for id, uid := range s.byStruggle {
		if uid == userID {
			delete(s.byStruggle, id)
		}
	}
	for id, uid := range s.byIntervention {
		if uid == userID {
			delete(s.byIntervention, id)
		}
	}
	return nil
}

// Close marks the store unavailable. Subsequent turns fail with
// ErrStoreClosed so callers can requeue their events.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
