package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/prompt"
	"github.com/dkalashnik/openwrite/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Users resolves bearer tokens.
type Users interface {
	UserByToken(ctx context.Context, token string) (storage.User, error)
}

type Submissions interface {
	SaveSubmission(ctx context.Context, sub *storage.Submission) error
}

// Profiles updates the public profile of a signed-in writer.
type Profiles interface {
	UpdateUsername(ctx context.Context, userID uuid.UUID, username string) error
}

type Mailer interface {
	SendSubmission(ctx context.Context, recipient, prompt, text string) error
}

// Deps wires the HTTP surface. Mailer and Waitlist may be nil; their routes then
// answer 500 like a misconfigured server.
type Deps struct {
	Prompts     ports.PromptSource
	Users       Users
	Submissions Submissions
	Profiles    Profiles
	Waitlist    ports.Waitlist
	Mailer      Mailer
	Health      func(ctx context.Context) error
}

type Server struct {
	deps Deps
}

const userKey = "openwrite.user"

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	s := &Server{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	api.GET("/get-prompt", s.getPrompt)
	api.POST("/save-submission", s.requireUser(), s.saveSubmission)
	api.POST("/send-submission", s.sendSubmission)
	api.POST("/subscribe", s.subscribe)
	api.POST("/profile", s.requireUser(), s.updateProfile)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[http] %s %s -> %d (%s)", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// cors leaves the API open to the web front-end.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			log.Printf("[healthz] Health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getPrompt(c *gin.Context) {
	p, err := s.deps.Prompts.Today(c.Request.Context())
	if err != nil {
		if !errors.Is(err, prompt.ErrPromptUnavailable) {
			log.Printf("[getPrompt] Error fetching today's prompt: %v", err)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Could not fetch the prompt for today."})
		return
	}
	var id any = p.ID
	if n, err := strconv.ParseInt(p.ID, 10, 64); err == nil {
		id = n
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "prompt_text": p.Text})
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "You must be logged in to submit."})
			return
		}
		user, err := s.deps.Users.UserByToken(c.Request.Context(), token)
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "You must be logged in to submit."})
			return
		}
		if err != nil {
			log.Printf("[requireUser] Token lookup failed: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify credentials."})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type saveSubmissionRequest struct {
	PromptID       *int64  `json:"promptId"`
	SubmissionText *string `json:"submissionText"`
	IsAnonymous    *bool   `json:"isAnonymous"`
}

func (s *Server) saveSubmission(c *gin.Context) {
	var req saveSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PromptID == nil || req.SubmissionText == nil || req.IsAnonymous == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data format."})
		return
	}
	user := c.MustGet(userKey).(storage.User)

	sub := &storage.Submission{
		UserID:         user.ID,
		PromptID:       *req.PromptID,
		SubmissionText: *req.SubmissionText,
		IsAnonymous:    *req.IsAnonymous,
	}
	if err := s.deps.Submissions.SaveSubmission(c.Request.Context(), sub); err != nil {
		log.Printf("[saveSubmission] Failed to save submission for user %s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save submission."})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Submission saved successfully!"})
}

type profileRequest struct {
	Username string `json:"username"`
}

func (s *Server) updateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil || !storage.ValidUsername(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username must be 3-20 characters long and can only contain lowercase letters, numbers, and underscores."})
		return
	}
	user := c.MustGet(userKey).(storage.User)

	err := s.deps.Profiles.UpdateUsername(c.Request.Context(), user.ID, req.Username)
	switch {
	case errors.Is(err, storage.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "This username is already taken."})
		return
	case err != nil:
		log.Printf("[updateProfile] Update username error for user %s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update username."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Username updated successfully!"})
}

// sendSubmissionRequest accepts both the web form names and the sink contract names.
type sendSubmissionRequest struct {
	UserEmail      string  `json:"userEmail"`
	RecipientEmail string  `json:"recipientEmail"`
	Prompt         string  `json:"prompt"`
	PromptText     string  `json:"promptText"`
	SubmissionText *string `json:"submissionText"`
}

func (s *Server) sendSubmission(c *gin.Context) {
	if s.deps.Mailer == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Email client not initialized."})
		return
	}
	var req sendSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON in request body."})
		return
	}
	email := firstNonEmpty(req.UserEmail, req.RecipientEmail)
	promptText := firstNonEmpty(req.Prompt, req.PromptText)
	switch {
	case !strings.Contains(email, "@"):
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid recipient email is required."})
		return
	case promptText == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt text is required."})
		return
	case req.SubmissionText == nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Submission text must be a string."})
		return
	}

	ctx := c.Request.Context()
	if err := s.deps.Mailer.SendSubmission(ctx, email, promptText, *req.SubmissionText); err != nil {
		log.Printf("[sendSubmission] Mail error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send email."})
		return
	}

	if s.deps.Waitlist != nil {
		if _, err := s.deps.Waitlist.Subscribe(ctx, email); err != nil {
			log.Printf("[sendSubmission] Could not register %s for updates: %v", email, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Submission email sent successfully!"})
}

type subscribeRequest struct {
	Email string `json:"email"`
}

func (s *Server) subscribe(c *gin.Context) {
	if s.deps.Waitlist == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database client not initialized."})
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil || !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid email address is required."})
		return
	}
	created, err := s.deps.Waitlist.Subscribe(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		log.Printf("[subscribe] Insert error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register email. Please try again later."})
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"message": "This email address is already registered!"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Thank you for registering!"})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
