package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/stretchr/testify/assert"

	"github.com/vibecoderz/mentor/internal/cache"
	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core/decide"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/core/normalize"
	"github.com/vibecoderz/mentor/internal/core/throttle"
	"github.com/vibecoderz/mentor/internal/driver"
	"github.com/vibecoderz/mentor/internal/generator"
	"github.com/vibecoderz/mentor/internal/logger"
	"github.com/vibecoderz/mentor/internal/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scriptedGenerator struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	requests []model.GenerationRequest
}

func (g *scriptedGenerator) GenerateArtifact(_ context.Context, req model.GenerationRequest) (*model.ArtifactDescriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.requests = append(g.requests, req)
	if g.fail {
		return nil, &generator.GenerationError{
			Topic:    req.Topic,
			Attempts: 3,
			Err:      errors.New("deadline exceeded"),
		}
	}
	return &model.ArtifactDescriptor{
		ID:         fmt.Sprintf("art_%d", g.calls),
		Topic:      req.Topic,
		Title:      "Understanding " + req.Topic,
		SlideCount: 5,
	}, nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }

type harness struct {
	agent     *Agent
	clock     *testClock
	gen       *scriptedGenerator
	store     *memory.Store
	fallbacks *generator.Fallbacks
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	log := logger.NewNop()
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}

	store := memory.New(cfg.Intervention, log)
	store.Clock = clock.Now

	gen := &scriptedGenerator{}
	fallbacks := generator.NewFallbacks(cfg.Generator.Fallbacks)
	decider := decide.New(cfg.Intervention, gen, fallbacks, zeroRand{}, log)
	gate := throttle.New(cfg.Intervention, cache.NewMemoryCounter(), log)

	agent := NewAgent(cfg, store, gate, decider, log)
	agent.Normalizer = normalize.New()
	agent.Normalizer.Clock = clock.Now
	return &harness{agent: agent, clock: clock, gen: gen, store: store, fallbacks: fallbacks}
}

func quizFailure(userID, topic string) model.RawEvent {
	return model.RawEvent{
		UserID: userID,
		Kind:   "quiz_failure",
		Topic:  topic,
		Metadata: map[string]interface{}{
			"quiz_score": 0.4,
			"attempts":   2,
			"time_spent": 200.0,
		},
	}
}

func TestNewAgentWiresCollaborators(t *testing.T) {
	h := newHarness(t)
	assert.NotNil(t, h.agent.Store)
	assert.NotNil(t, h.agent.Normalizer)
	assert.NotNil(t, h.agent.Detector)
	assert.NotNil(t, h.agent.Gate)
	assert.NotNil(t, h.agent.Decider)
	assert.NotNil(t, h.agent.Feedback)
	assert.Equal(t, h.agent, h.agent.Feedback.Sink)
}

func TestQuizFailureCreatesIntervention(t *testing.T) {
	h := newHarness(t)

	res, err := h.agent.ProcessEvent(context.Background(), quizFailure("u1", "recursion"))
	assert.NoError(t, err)
	assert.Equal(t, ActionIntervention, res.Action)
	assert.NotNil(t, res.Intervention)
	assert.NotNil(t, res.Delivery)
	assert.Equal(t, res.Intervention.ID, res.Delivery.InterventionID)
	assert.Equal(t, "in_app", res.Delivery.ChannelHint)

	// The topic was just marked struggling, so the request asks for
	// beginner material in the default visual style.
	assert.Equal(t, 1, h.gen.Calls())
	req := h.gen.requests[0]
	assert.Equal(t, model.DifficultyBeginner, req.Difficulty)
	assert.Equal(t, "visual", req.LearningStyle)

	profile, err := h.store.GetProfile("u1")
	assert.NoError(t, err)
	assert.Len(t, profile.Interventions, 1)
	assert.Len(t, profile.Struggles, 1)
	assert.Equal(t, model.ResolutionInterventionProvided, profile.Struggles[0].Resolution)
}

func TestCooldownSuppressesSecondEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.agent.ProcessEvent(ctx, quizFailure("u1", "recursion"))
	assert.NoError(t, err)
	assert.Equal(t, ActionIntervention, res.Action)

	h.clock.Advance(10 * time.Minute)
	res, err = h.agent.ProcessEvent(ctx, quizFailure("u1", "pointers"))
	assert.NoError(t, err)
	assert.Equal(t, ActionThrottled, res.Action)
	assert.Contains(t, res.Suppressed, throttle.ReasonCooldown)
	assert.Equal(t, 1, h.gen.Calls())

	// The suppressed struggle is still on record, unresolved.
	profile, err := h.store.GetProfile("u1")
	assert.NoError(t, err)
	assert.Len(t, profile.Struggles, 2)
	assert.Equal(t, model.ResolutionUnresolved, profile.Struggles[1].Resolution)

	// After the cooldown the gate opens again.
	h.clock.Advance(25 * time.Minute)
	res, err = h.agent.ProcessEvent(ctx, quizFailure("u1", "slices"))
	assert.NoError(t, err)
	assert.Equal(t, ActionIntervention, res.Action)
}

func TestGeneratorFailureLeavesStruggleUnresolved(t *testing.T) {
	h := newHarness(t)
	h.gen.fail = true

	res, err := h.agent.ProcessEvent(context.Background(), quizFailure("u1", "CSS Grid"))
	assert.NoError(t, err)
	assert.Equal(t, ActionGenerationFailed, res.Action)
	assert.Nil(t, res.Intervention)

	profile, err := h.store.GetProfile("u1")
	assert.NoError(t, err)
	assert.Empty(t, profile.Interventions)
	assert.Equal(t, model.ResolutionUnresolved, profile.Struggles[0].Resolution)

	// Nothing was emitted, so the failure must not start a cooldown.
	res, err = h.agent.ProcessEvent(context.Background(), quizFailure("u1", "CSS Grid"))
	assert.NoError(t, err)
	assert.Equal(t, ActionGenerationFailed, res.Action)
}

func TestFallbackArtifactServedWhenGeneratorFails(t *testing.T) {
	h := newHarness(t)
	h.gen.fail = true
	h.fallbacks.Register(model.ArtifactDescriptor{
		Topic:      "CSS Grid",
		Title:      "CSS Grid Basics",
		SlideCount: 4,
	})

	res, err := h.agent.ProcessEvent(context.Background(), quizFailure("u1", "CSS Grid"))
	assert.NoError(t, err)
	assert.Equal(t, ActionIntervention, res.Action)
	assert.True(t, res.Intervention.Artifact.Fallback)
	assert.Equal(t, "CSS Grid Basics", res.Intervention.Artifact.Title)
}

func TestNonMatchingEventRecordedWithoutAction(t *testing.T) {
	h := newHarness(t)

	raw := quizFailure("u1", "recursion")
	raw.Metadata["attempts"] = 1
	res, err := h.agent.ProcessEvent(context.Background(), raw)
	assert.NoError(t, err)
	assert.Equal(t, ActionNoAction, res.Action)
	assert.Equal(t, 0, h.gen.Calls())

	profile, err := h.store.GetProfile("u1")
	assert.NoError(t, err)
	assert.Len(t, profile.Struggles, 1)
	assert.Equal(t, model.ResolutionUnresolved, profile.Struggles[0].Resolution)
}

func TestMalformedEventRejected(t *testing.T) {
	h := newHarness(t)

	raw := model.RawEvent{UserID: "u1", Kind: "quiz_failure", Topic: "recursion"}
	res, err := h.agent.ProcessEvent(context.Background(), raw)
	assert.Error(t, err)
	var malformed *normalize.MalformedEventError
	assert.ErrorAs(t, err, &malformed)
	assert.Equal(t, ActionRejected, res.Action)
	assert.False(t, h.store.HasUser("u1"))
}

func TestDuplicateFeedbackIsNoOp(t *testing.T) {
	h := newHarness(t)

	res, err := h.agent.ProcessEvent(context.Background(), quizFailure("u1", "recursion"))
	assert.NoError(t, err)
	assert.Equal(t, ActionIntervention, res.Action)

	sig := model.FeedbackSignal{
		InterventionID: res.Intervention.ID,
		Opened:         true,
		CompletionRate: 0.8,
	}
	h.agent.Feedback.Apply(sig)
	first, err := h.store.GetProfile("u1")
	assert.NoError(t, err)

	sig.CompletionRate = 0.1
	h.agent.Feedback.Apply(sig)
	second, err := h.store.GetProfile("u1")
	assert.NoError(t, err)
	assert.Equal(t, first.TopicEffectiveness, second.TopicEffectiveness)
	assert.Equal(t, first.Engagement, second.Engagement)
}

func TestPrerequisiteGapsFlowIntoGeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.NoError(t, h.agent.SetPrerequisites(ctx, "u1", "recursion", []string{"functions", "stack frames"}))
	res, err := h.agent.ProcessEvent(ctx, quizFailure("u1", "recursion"))
	assert.NoError(t, err)
	assert.Equal(t, ActionIntervention, res.Action)
	assert.Equal(t, []string{"functions", "stack frames"}, h.gen.requests[0].PrerequisiteGaps)
}

type fakeGraph struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeGraph) ExecuteQuery(_ context.Context, query string, _ map[string]interface{}) (neo4j.EagerResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	switch query {
	case driver.GetConceptsQuery:
		return neo4j.EagerResult{Records: []*db.Record{
			{Keys: []string{"name", "status"}, Values: []interface{}{"loops", "mastered"}},
			{Keys: []string{"name", "status"}, Values: []interface{}{"recursion", "struggling"}},
		}}, nil
	case driver.GetPrerequisitesQuery:
		return neo4j.EagerResult{Records: []*db.Record{
			{Keys: []string{"prerequisite"}, Values: []interface{}{"variables"}},
		}}, nil
	}
	return neo4j.EagerResult{}, nil
}

func (f *fakeGraph) BuildIndices(context.Context) error { return nil }
func (f *fakeGraph) Close(context.Context) error        { return nil }

func TestRehydrateRestoresKnowledgeGraph(t *testing.T) {
	h := newHarness(t)
	h.agent.Graph = &fakeGraph{}

	// A help request alone triggers nothing, but first contact with an
	// unseen user pulls their mastery state back from the graph store.
	raw := model.RawEvent{UserID: "u1", Kind: "help_request", Topic: "recursion"}
	res, err := h.agent.ProcessEvent(context.Background(), raw)
	assert.NoError(t, err)
	assert.Equal(t, ActionNoAction, res.Action)

	profile, err := h.store.GetProfile("u1")
	assert.NoError(t, err)
	assert.True(t, profile.Knowledge.Mastered["loops"])
	assert.True(t, profile.Knowledge.Struggling["recursion"])
	assert.Equal(t, []string{"variables"}, profile.Knowledge.Prerequisites["loops"])
}

func TestDispatcherPreservesPerUserOrder(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string][]string)
	d := NewDispatcher(func(_ context.Context, raw model.RawEvent) {
		mu.Lock()
		seen[raw.UserID] = append(seen[raw.UserID], raw.Topic)
		mu.Unlock()
	}, logger.NewNop())

	for i := 0; i < 20; i++ {
		d.Submit(model.RawEvent{UserID: "a", Topic: fmt.Sprintf("t%d", i)})
		d.Submit(model.RawEvent{UserID: "b", Topic: fmt.Sprintf("t%d", i)})
	}
	assert.NoError(t, d.Wait())

	for _, user := range []string{"a", "b"} {
		assert.Len(t, seen[user], 20)
		for i, topic := range seen[user] {
			assert.Equal(t, fmt.Sprintf("t%d", i), topic)
		}
	}
}
