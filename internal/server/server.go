package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core"
	"github.com/vibecoderz/mentor/internal/core/detect"
	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/core/normalize"
	"github.com/vibecoderz/mentor/internal/logger"
	"github.com/vibecoderz/mentor/internal/memory"
)

type Server struct {
	Agent *core.Agent
	Store *memory.Store

	cfg     *config.Config
	log     *logger.Logger
	started time.Time
}

func New(cfg *config.Config, agent *core.Agent, store *memory.Store, log *logger.Logger) *Server {
	return &Server{
		Agent:   agent,
		Store:   store,
		cfg:     cfg,
		log:     log.With("service", "server"),
		started: time.Now().UTC(),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	if s.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.GET("/", s.Root)
	r.GET("/status", s.Status)

	r.POST("/events", s.PostEvent)
	r.POST("/feedback", s.PostFeedback)
	r.POST("/generate-artifact", s.GenerateArtifact)

	r.GET("/users", s.ListUsers)
	r.GET("/users/:id/profile", s.UserProfile)
	r.POST("/users/:id/reset", s.ResetUser)
	r.POST("/users/:id/prerequisites", s.SetPrerequisites)

	r.POST("/webhooks/quiz-completed", s.QuizCompleted)
	r.POST("/webhooks/help-request", s.HelpRequest)

	return r
}

func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "mentor",
		"status":  "running",
	})
}

func (s *Server) Status(c *gin.Context) {
	users, events, interventions := s.Store.Totals()
	c.JSON(http.StatusOK, gin.H{
		"status":              "healthy",
		"uptime_seconds":      int(time.Since(s.started).Seconds()),
		"users":               users,
		"events_processed":    events,
		"interventions_total": interventions,
	})
}

// PostEvent runs the full pipeline synchronously and returns the
// decision. A closed store means the process is shutting down; the
// caller should requeue and retry against the next instance.
func (s *Server) PostEvent(c *gin.Context) {
	var raw model.RawEvent
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.Agent.ProcessEvent(c.Request.Context(), raw)
	if err != nil {
		var malformed *normalize.MalformedEventError
		switch {
		case errors.As(err, &malformed):
			c.JSON(http.StatusBadRequest, gin.H{"error": malformed.Error()})
		case errors.Is(err, memory.ErrStoreClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down", "requeue": true})
		default:
			s.log.Error("event processing failed", "user_id", raw.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// PostFeedback accepts an engagement signal for a delivered
// intervention. Signals are applied asynchronously; duplicates and
// unknown interventions are discarded downstream.
func (s *Server) PostFeedback(c *gin.Context) {
	var sig model.FeedbackSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.Agent.SubmitFeedback(sig)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type GenerateArtifactRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Topic  string `json:"topic" binding:"required"`
}

// GenerateArtifact produces a learning artifact on demand, outside the
// detection and throttling pipeline. Nothing is recorded against the
// user's intervention history.
func (s *Server) GenerateArtifact(c *gin.Context) {
	var req GenerateArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	profile, err := s.Store.GetProfile(req.UserID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down", "requeue": true})
		return
	}

	genReq := s.Agent.Decider.BuildRequest(profile, &detect.Candidate{Topic: req.Topic})
	artifact, err := s.Agent.Decider.Generate(c.Request.Context(), genReq)
	if err != nil {
		s.log.Error("on-demand generation failed", "topic", req.Topic, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "artifact generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"artifact": artifact})
}

func (s *Server) ListUsers(c *gin.Context) {
	users := s.Store.Users()
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (s *Server) UserProfile(c *gin.Context) {
	userID := c.Param("id")
	if !s.Store.HasUser(userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	profile, err := s.Store.GetProfile(userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":           profile,
		"learning_patterns": learningPatterns(profile),
	})
}

// learningPatterns summarizes a profile for coaches and dashboards.
func learningPatterns(profile *model.UserLearningProfile) gin.H {
	unresolved := 0
	var lastActivity time.Time
	topicCounts := make(map[string]int)
	for i := range profile.Struggles {
		rec := &profile.Struggles[i]
		if rec.Resolution == model.ResolutionUnresolved {
			unresolved++
		}
		if rec.ObservedAt.After(lastActivity) {
			lastActivity = rec.ObservedAt
		}
		topicCounts[rec.Topic]++
	}

	var commonKind model.EventKind
	for kind, n := range profile.EventCounts {
		if n > profile.EventCounts[commonKind] || (n == profile.EventCounts[commonKind] && kind < commonKind) {
			commonKind = kind
		}
	}

	topTopics := make([]string, 0, len(topicCounts))
	for topic := range topicCounts {
		topTopics = append(topTopics, topic)
	}
	sort.Slice(topTopics, func(i, j int) bool {
		if topicCounts[topTopics[i]] != topicCounts[topTopics[j]] {
			return topicCounts[topTopics[i]] > topicCounts[topTopics[j]]
		}
		return topTopics[i] < topTopics[j]
	})
	if len(topTopics) > 5 {
		topTopics = topTopics[:5]
	}

	struggling := make([]string, 0, len(profile.Knowledge.Struggling))
	for concept := range profile.Knowledge.Struggling {
		struggling = append(struggling, concept)
	}
	sort.Strings(struggling)

	return gin.H{
		"event_counts":         profile.EventCounts,
		"most_common_kind":     commonKind,
		"top_struggle_topics":  topTopics,
		"unresolved_struggles": unresolved,
		"interventions_total":  len(profile.Interventions),
		"struggling_concepts":  struggling,
		"topic_effectiveness":  profile.TopicEffectiveness,
		"last_activity":        lastActivity,
	}
}

func (s *Server) ResetUser(c *gin.Context) {
	userID := c.Param("id")
	if err := s.Store.DeleteUser(userID); err != nil {
		if errors.Is(err, memory.ErrUnknownUser) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type SetPrerequisitesRequest struct {
	Topic         string   `json:"topic" binding:"required"`
	Prerequisites []string `json:"prerequisites" binding:"required"`
}

// SetPrerequisites declares concept dependencies used for gap analysis
// when building generation requests.
func (s *Server) SetPrerequisites(c *gin.Context) {
	var req SetPrerequisitesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.Agent.SetPrerequisites(c.Request.Context(), c.Param("id"), req.Topic, req.Prerequisites); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down", "requeue": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type QuizCompletedWebhook struct {
	UserID    string  `json:"user_id" binding:"required"`
	Topic     string  `json:"topic" binding:"required"`
	Score     float64 `json:"score"`
	Attempts  int     `json:"attempts"`
	TimeSpent float64 `json:"time_spent_seconds"`
}

// QuizCompleted translates platform quiz webhooks into pipeline events.
// Passing quizzes are acknowledged without entering the pipeline.
func (s *Server) QuizCompleted(c *gin.Context) {
	var hook QuizCompletedWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if hook.Score >= 0.6 {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "reason": "passing score"})
		return
	}

	s.Agent.Enqueue(model.RawEvent{
		UserID: hook.UserID,
		Kind:   string(model.KindQuizFailure),
		Topic:  hook.Topic,
		Metadata: map[string]interface{}{
			"quiz_score": hook.Score,
			"attempts":   hook.Attempts,
			"time_spent": hook.TimeSpent,
		},
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type HelpRequestWebhook struct {
	UserID    string  `json:"user_id" binding:"required"`
	Topic     string  `json:"topic" binding:"required"`
	TimeSpent float64 `json:"time_spent_seconds"`
}

func (s *Server) HelpRequest(c *gin.Context) {
	var hook HelpRequestWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.Agent.Enqueue(model.RawEvent{
		UserID: hook.UserID,
		Kind:   string(model.KindHelpRequest),
		Topic:  hook.Topic,
		Metadata: map[string]interface{}{
			"time_spent": hook.TimeSpent,
		},
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
