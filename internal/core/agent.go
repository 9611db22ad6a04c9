// Package core wires the intervention pipeline: normalize, detect,
// throttle, decide, record. One event makes at most two turns over the
// user's profile; the long-latency generation call runs between them
// with no lock held.
package core

import (
	"context"
	"time"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/decide"
	"github.com/vibecoderz/mentor/internal/core/detect"
	"github.com/vibecoderz/mentor/internal/core/feedback"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/core/normalize"
	"github.com/vibecoderz/mentor/internal/core/throttle"
	"github.com/vibecoderz/mentor/internal/driver"
	"github.com/vibecoderz/mentor/internal/logger"
	"github.com/vibecoderz/mentor/internal/memory"
)

// Action names the outcome of processing one event.
const (
	ActionRejected         = "rejected"
	ActionNoAction         = "no_action"
	ActionThrottled        = "throttled"
	ActionDeclined         = "declined"
	ActionGenerationFailed = "generation_failed"
	ActionIntervention     = "intervention_created"
)

// Deliverer is the external delivery collaborator. Transport reliability
// is its problem, not this core's.
type Deliverer interface {
	Deliver(ctx context.Context, instruction model.DeliveryInstruction) error
}

// Result reports what the pipeline did with one event.
type Result struct {
	Action       string                     `json:"action"`
	UserID       string                     `json:"user_id"`
	StruggleID   string                     `json:"struggle_id,omitempty"`
	Suppressed   []string                   `json:"suppressed_by,omitempty"`
	Intervention *model.InterventionRecord  `json:"intervention,omitempty"`
	Delivery     *model.DeliveryInstruction `json:"delivery,omitempty"`
	Timestamp    time.Time                  `json:"timestamp"`
}

// Agent is the intervention decision core.
type Agent struct {
	Store      *memory.Store
	Normalizer *normalize.Normalizer
	Detector   *detect.Detector
	Gate       *throttle.Gate
	Decider    *decide.Engine
	Feedback   *feedback.Loop

	// Graph is optional write-through persistence for the knowledge
	// graph; Deliverer is the optional delivery collaborator.
	Graph     driver.GraphDriver
	Deliverer Deliverer

	dispatcher *Dispatcher
	log        *logger.Logger
}

func NewAgent(cfg *config.Config, store *memory.Store, gate *throttle.Gate, decider *decide.Engine, log *logger.Logger) *Agent {
	a := &Agent{
		Store:      store,
		Normalizer: normalize.New(),
		Detector:   detect.New(cfg.Detector),
		Gate:       gate,
		Decider:    decider,
		Feedback:   feedback.NewLoop(store, cfg.Intervention, log),
		log:        log.With("service", "agent"),
	}
	a.dispatcher = NewDispatcher(a.processAsync, log)
	a.Feedback.Sink = a
	return a
}

// ProcessEvent runs the full pipeline for one raw event and returns the
// outcome. Events for the same user are serialized by the store's
// per-user turns; the caller sees MalformedEventError for validation
// failures and memory.ErrStoreClosed when the event should be requeued.
func (a *Agent) ProcessEvent(ctx context.Context, raw model.RawEvent) (*Result, error) {
	ev, err := a.Normalizer.Normalize(raw)
	if err != nil {
		a.log.Warn("event rejected", "user_id", raw.UserID, "kind", raw.Kind, "error", err)
		return &Result{Action: ActionRejected, UserID: raw.UserID, Timestamp: time.Now().UTC()}, err
	}

	if a.Graph != nil && !a.Store.HasUser(ev.UserID) {
		a.rehydrate(ctx, ev.UserID)
	}

	// The shared counter may hit Redis, so it is read before the turn.
	sharedCount := a.Gate.SharedCount(ctx, ev.UserID)

	// Turn one: record the struggle, evaluate trigger and throttle, and
	// capture everything generation needs.
	var (
		candidate *detect.Candidate
		verdict   throttle.Verdict
		proceed   bool
		genReq    model.GenerationRequest
		result    = &Result{UserID: ev.UserID}
	)
	err = a.Store.Turn(ev.UserID, func(t *memory.Txn) error {
		profile := t.Profile()
		rec, c := a.Detector.Evaluate(ev, profile.Struggles)
		t.AppendStruggle(rec)
		result.StruggleID = rec.ID
		result.Timestamp = t.Now()
		if c == nil {
			return nil
		}
		c.StruggleID = rec.ID
		candidate = c
		profile.Knowledge.MarkStruggling(c.Topic)

		verdict = a.Gate.Check(profile, t.Now(), sharedCount)
		if !verdict.Allowed() {
			return nil
		}

		var eff *float64
		if v, ok := profile.TopicEffectiveness[c.Topic]; ok {
			eff = &v
		}
		if proceed = a.Decider.ShouldIntervene(c, eff); proceed {
			genReq = a.Decider.BuildRequest(profile, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case candidate == nil:
		result.Action = ActionNoAction
		return result, nil
	case !verdict.Allowed():
		result.Action = ActionThrottled
		result.Suppressed = verdict.Reasons
		a.log.Info("candidate suppressed",
			"user_id", ev.UserID, "topic", candidate.Topic, "reasons", verdict.Reasons)
		return result, nil
	case !proceed:
		result.Action = ActionDeclined
		return result, nil
	}

	a.persistConcept(ctx, ev.UserID, candidate.Topic, "struggling", result.Timestamp)

	// The generator call holds no lock; only the captured request leaves
	// the turn.
	artifact, err := a.Decider.Generate(ctx, genReq)
	if err != nil {
		// The struggle stays unresolved for manual follow-up and the
		// throttle counters remain untouched.
		result.Action = ActionGenerationFailed
		return result, nil
	}

	// Turn two: durably append the intervention, then count it.
	intervention := a.Decider.NewIntervention(ev.UserID, candidate.StruggleID, artifact)
	err = a.Store.Turn(ev.UserID, func(t *memory.Txn) error {
		t.AppendIntervention(intervention)
		return t.UpdateStruggleResolution(candidate.StruggleID, model.ResolutionInterventionProvided, nil)
	})
	if err != nil {
		return nil, err
	}
	a.Gate.RecordIntervention(ctx, ev.UserID)

	delivery := a.Decider.NewDelivery(intervention)
	if a.Deliverer != nil {
		if err := a.Deliverer.Deliver(ctx, *delivery); err != nil {
			a.log.Warn("delivery handoff failed",
				"intervention_id", intervention.ID, "error", err)
		}
	}

	result.Action = ActionIntervention
	result.Intervention = intervention
	result.Delivery = delivery
	a.log.Info("intervention created",
		"user_id", ev.UserID, "topic", candidate.Topic,
		"intervention_id", intervention.ID, "fallback", artifact.Fallback)
	return result, nil
}

// Enqueue hands an event to the per-user dispatcher for asynchronous
// processing in arrival order. Used by the webhook endpoints.
func (a *Agent) Enqueue(raw model.RawEvent) {
	a.dispatcher.Submit(raw)
}

// SubmitFeedback queues an engagement signal, falling back to a
// synchronous apply when the loop's buffer is full.
func (a *Agent) SubmitFeedback(sig model.FeedbackSignal) {
	if !a.Feedback.Submit(sig) {
		a.Feedback.Apply(sig)
	}
}

// Run starts the background consumers and blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	go a.Feedback.Run(ctx)
	<-ctx.Done()
	return a.dispatcher.Wait()
}

func (a *Agent) processAsync(ctx context.Context, raw model.RawEvent) {
	if _, err := a.ProcessEvent(ctx, raw); err != nil {
		a.log.Warn("async event processing failed",
			"user_id", raw.UserID, "kind", raw.Kind, "error", err)
	}
}

// SetPrerequisites declares the concepts a topic depends on, updating
// the in-memory graph and mirroring the edges to the graph database.
func (a *Agent) SetPrerequisites(ctx context.Context, userID, topic string, prerequisites []string) error {
	err := a.Store.Turn(userID, func(t *memory.Txn) error {
		t.Profile().Knowledge.SetPrerequisites(topic, prerequisites)
		return nil
	})
	if err != nil {
		return err
	}

	if a.Graph == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range prerequisites {
		_, err := a.Graph.ExecuteQuery(ctx, driver.SavePrerequisiteQuery, map[string]interface{}{
			"name":         topic,
			"prerequisite": p,
			"updated_at":   now,
		})
		if err != nil {
			a.log.Warn("failed to persist prerequisite edge",
				"topic", topic, "prerequisite", p, "error", err)
		}
	}
	return nil
}

// PersistConcept mirrors a single mastery change to the graph database.
// Implements feedback.ConceptSink.
func (a *Agent) PersistConcept(userID, concept, status string) {
	a.persistConcept(context.Background(), userID, concept, status, time.Now().UTC())
}

// rehydrate restores a returning user's knowledge graph from the graph
// database. The profile store is in-memory, so mastery state is the one
// piece of history that survives a restart.
func (a *Agent) rehydrate(ctx context.Context, userID string) {
	res, err := a.Graph.ExecuteQuery(ctx, driver.GetConceptsQuery, map[string]interface{}{
		"user_id": userID,
	})
	if err != nil {
		a.log.Warn("failed to load concepts", "user_id", userID, "error", err)
		return
	}
	if len(res.Records) == 0 {
		return
	}

	type conceptRow struct{ name, status string }
	var rows []conceptRow
	for _, record := range res.Records {
		name, _ := record.Get("name")
		status, _ := record.Get("status")
		n, ok := name.(string)
		s, ok2 := status.(string)
		if ok && ok2 {
			rows = append(rows, conceptRow{name: n, status: s})
		}
	}

	prereqs := make(map[string][]string)
	for _, row := range rows {
		pres, err := a.Graph.ExecuteQuery(ctx, driver.GetPrerequisitesQuery, map[string]interface{}{
			"name": row.name,
		})
		if err != nil {
			continue
		}
		for _, record := range pres.Records {
			p, _ := record.Get("prerequisite")
			if s, ok := p.(string); ok {
				prereqs[row.name] = append(prereqs[row.name], s)
			}
		}
	}

	err = a.Store.Turn(userID, func(t *memory.Txn) error {
		k := t.Profile().Knowledge
		for _, row := range rows {
			switch row.status {
			case "mastered":
				k.MarkMastered(row.name)
			case "struggling":
				k.MarkStruggling(row.name)
			}
		}
		for topic, ps := range prereqs {
			k.SetPrerequisites(topic, ps)
		}
		return nil
	})
	if err != nil {
		return
	}
	a.log.Info("knowledge graph rehydrated", "user_id", userID, "concepts", len(rows))
}

// persistConcept mirrors a knowledge-graph change to the graph database,
// best effort, with no user lock held.
func (a *Agent) persistConcept(ctx context.Context, userID, concept, status string, at time.Time) {
	if a.Graph == nil {
		return
	}
	_, err := a.Graph.ExecuteQuery(ctx, driver.SaveConceptQuery, map[string]interface{}{
		"name":       concept,
		"user_id":    userID,
		"status":     status,
		"updated_at": at.Format(time.RFC3339),
	})
	if err != nil {
		a.log.Warn("failed to persist concept",
			"user_id", userID, "concept", concept, "error", err)
	}
}
