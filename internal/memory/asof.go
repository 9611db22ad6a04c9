package memory

import (
	"time"

	"github.com/vibecoderz/mentor/internal/core/model"
)

// AsOfView is the bi-temporal reconstruction of a user's records as the
// system knew them at a given time. Records first observed after At are
// absent; records revised after At appear in their older revision. The
// view is stable: later writes never change the result for the same At.
type AsOfView struct {
	UserID        string                     `json:"user_id"`
	At            time.Time                  `json:"at"`
	Struggles     []model.StruggleRecord     `json:"struggles"`
	Interventions []model.InterventionRecord `json:"interventions"`
}

// ProfileAsOf resolves every record to its latest revision with
// observation time not after at.
func (s *Store) ProfileAsOf(userID string, at time.Time) (*AsOfView, error) {
	view := &AsOfView{UserID: userID, At: at}
	err := s.Turn(userID, func(t *Txn) error {
		// Iterate in first-observation order via the materialized slices
		// so the view keeps the store's ordering guarantees.
		for _, latest := range t.u.profile.Struggles {
			if rec, ok := revisionAsOf(t.u.struggleRevs[latest.ID], at); ok {
				view.Struggles = append(view.Struggles, rec)
			}
		}
		for _, latest := range t.u.profile.Interventions {
			if rec, ok := interventionAsOf(t.u.interventionRevs[latest.ID], at); ok {
				view.Interventions = append(view.Interventions, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func revisionAsOf(revs []model.StruggleRecord, at time.Time) (model.StruggleRecord, bool) {
	for i := len(revs) - 1; i >= 0; i-- {
		if !revs[i].ObservedAt.After(at) {
			return revs[i], true
		}
	}
	return model.StruggleRecord{}, false
}

func interventionAsOf(revs []model.InterventionRecord, at time.Time) (model.InterventionRecord, bool) {
	for i := len(revs) - 1; i >= 0; i-- {
		if !revs[i].ObservedAt.After(at) {
			return revs[i], true
		}
	}
	return model.InterventionRecord{}, false
}
