package model

import "time"

// Difficulty is the level passed to the content generator.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// KnowledgeGraph tracks concept mastery for one user plus the
// prerequisite-dependency mapping between concepts.
type KnowledgeGraph struct {
	Mastered      map[string]bool     `json:"mastered"`
	Struggling    map[string]bool     `json:"struggling"`
	Prerequisites map[string][]string `json:"prerequisites"`
}

func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		Mastered:      make(map[string]bool),
		Struggling:    make(map[string]bool),
		Prerequisites: make(map[string][]string),
	}
}

// MarkStruggling flags a concept as a current struggle. A concept cannot
// be both mastered and struggling; struggling wins on regression.
func (g *KnowledgeGraph) MarkStruggling(concept string) {
	delete(g.Mastered, concept)
	g.Struggling[concept] = true
}

// MarkMastered promotes a concept out of the struggling set.
func (g *KnowledgeGraph) MarkMastered(concept string) {
	delete(g.Struggling, concept)
	g.Mastered[concept] = true
}

// SetPrerequisites declares which concepts must be mastered before the
// given one.
func (g *KnowledgeGraph) SetPrerequisites(concept string, prereqs []string) {
	g.Prerequisites[concept] = prereqs
}

// Gaps returns the declared prerequisites of a concept that the user has
// not mastered yet.
func (g *KnowledgeGraph) Gaps(concept string) []string {
	var gaps []string
	for _, p := range g.Prerequisites[concept] {
		if !g.Mastered[p] {
			gaps = append(gaps, p)
		}
	}
	return gaps
}

// DifficultyFor maps mastery state to a generator difficulty level.
func (g *KnowledgeGraph) DifficultyFor(concept string) Difficulty {
	switch {
	case g.Mastered[concept]:
		return DifficultyAdvanced
	case g.Struggling[concept]:
		return DifficultyBeginner
	default:
		return DifficultyIntermediate
	}
}

func (g *KnowledgeGraph) clone() *KnowledgeGraph {
	c := NewKnowledgeGraph()
	for k := range g.Mastered {
		c.Mastered[k] = true
	}
	for k := range g.Struggling {
		c.Struggling[k] = true
	}
	for k, v := range g.Prerequisites {
		c.Prerequisites[k] = append([]string(nil), v...)
	}
	return c
}

// UserLearningProfile is the per-user state owned by the memory store.
// LearningVelocity and Engagement are scalars in [0,1]. Struggles and
// Interventions hold the latest revision of each record, ordered by
// observation time. EventCounts is an aggregate that survives retention
// cleanup of the underlying records.
type UserLearningProfile struct {
	UserID             string               `json:"user_id"`
	CreatedAt          time.Time            `json:"created_at"`
	LearningVelocity   float64              `json:"learning_velocity"`
	Engagement         float64              `json:"engagement"`
	Preferences        []string             `json:"preferences"`
	Struggles          []StruggleRecord     `json:"struggles"`
	Interventions      []InterventionRecord `json:"interventions"`
	Knowledge          *KnowledgeGraph      `json:"knowledge"`
	TopicEffectiveness map[string]float64   `json:"topic_effectiveness"`
	EventCounts        map[EventKind]int    `json:"event_counts"`
}

// LastIntervention returns the most recently delivered intervention, or
// nil when none exists.
func (p *UserLearningProfile) LastIntervention() *InterventionRecord {
	if len(p.Interventions) == 0 {
		return nil
	}
	last := &p.Interventions[0]
	for i := range p.Interventions {
		if p.Interventions[i].DeliveredAt.After(last.DeliveredAt) {
			last = &p.Interventions[i]
		}
	}
	return last
}

// InterventionsSince counts interventions delivered at or after t.
func (p *UserLearningProfile) InterventionsSince(t time.Time) int {
	n := 0
	for i := range p.Interventions {
		if !p.Interventions[i].DeliveredAt.Before(t) {
			n++
		}
	}
	return n
}

// LearningStyle returns the user's primary preference tag, defaulting to
// "visual" when no preference has been learned yet.
func (p *UserLearningProfile) LearningStyle() string {
	if len(p.Preferences) > 0 {
		return p.Preferences[0]
	}
	return "visual"
}

// Clone returns a deep copy safe to hand out after the user lock is
// released.
func (p *UserLearningProfile) Clone() *UserLearningProfile {
	c := *p
	c.Preferences = append([]string(nil), p.Preferences...)
	c.Struggles = append([]StruggleRecord(nil), p.Struggles...)
	for i := range c.Struggles {
		if e := c.Struggles[i].Effectiveness; e != nil {
			v := *e
			c.Struggles[i].Effectiveness = &v
		}
	}
	c.Interventions = append([]InterventionRecord(nil), p.Interventions...)
	for i := range c.Interventions {
		if m := c.Interventions[i].Metrics; m != nil {
			v := *m
			c.Interventions[i].Metrics = &v
		}
	}
	c.Knowledge = p.Knowledge.clone()
	c.TopicEffectiveness = make(map[string]float64, len(p.TopicEffectiveness))
	for k, v := range p.TopicEffectiveness {
		c.TopicEffectiveness[k] = v
	}
	c.EventCounts = make(map[EventKind]int, len(p.EventCounts))
	for k, v := range p.EventCounts {
		c.EventCounts[k] = v
	}
	return &c
}
