// Package webhook turns GitHub pull request events into review triggers.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/orchestrator"
)

var (
	validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	validSHARegex  = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// Trigger starts and closes reviews. The orchestrator runs them in
// process; workflows.Starter runs them on Temporal.
type Trigger interface {
	StartReview(ctx context.Context, req orchestrator.RunRequest) error
	CloseChangeSet(ctx context.Context, key ledger.Key, reason string) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithTier selects the tier of webhook-triggered runs.
func WithTier(t gate.Tier) Option {
	return func(h *Handler) { h.tier = t }
}

// WithRateLimit sets the per-IP request rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Handler) {
		h.limit = rate.Limit(perSecond)
		h.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// Handler serves the GitHub webhook endpoint.
type Handler struct {
	trigger Trigger
	secret  config.Secret
	tier    gate.Tier
	logger  *logging.Logger
	limit   rate.Limit
	burst   int

	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter
	lastCleanup  time.Time
}

// NewHandler creates a Handler. The secret is required.
func NewHandler(trigger Trigger, secret config.Secret, opts ...Option) (*Handler, error) {
	if trigger == nil {
		return nil, errors.New("webhook: trigger is required")
	}
	if !secret.IsSet() {
		return nil, errors.New("webhook: secret is required")
	}
	h := &Handler{
		trigger: trigger,
		secret:  secret,
		logger:  logging.NewNop(),
		limit:   rate.Limit(1),
		burst:   10,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// limiter returns the rate limiter of ip. Limiters are dropped hourly.
func (h *Handler) limiter(ip string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rateLimiters == nil || time.Since(h.lastCleanup) > time.Hour {
		h.rateLimiters = make(map[string]*rate.Limiter)
		h.lastCleanup = time.Now()
	}
	l, ok := h.rateLimiters[ip]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.rateLimiters[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// ServeHTTP validates, parses and dispatches one delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ip := clientIP(r)
	if !h.limiter(ip).Allow() {
		h.logger.Warn(ctx, "rate limit exceeded", zap.String("ip", ip))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	payload, err := github.ValidatePayload(r, []byte(h.secret.Value()))
	if err != nil {
		h.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.logger.Warn(ctx, "failed to parse webhook", zap.Error(err))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	status := "ignored"
	switch e := event.(type) {
	case *github.PullRequestEvent:
		status, err = h.handlePullRequest(ctx, e)
		if errors.Is(err, errInvalidEvent) {
			http.Error(w, "Invalid event", http.StatusBadRequest)
			return
		}
		if err != nil {
			h.logger.Error(ctx, "error handling pull request event", zap.Error(err))
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
	case *github.PingEvent:
		status = "pong"
	default:
		h.logger.Debug(ctx, "ignoring event type", zap.String("type", fmt.Sprintf("%T", event)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

var errInvalidEvent = errors.New("invalid pull request event")

func validate(e *github.PullRequestEvent) error {
	if e.PullRequest == nil || e.PullRequest.Number == nil || *e.PullRequest.Number <= 0 {
		return fmt.Errorf("%w: invalid PR number", errInvalidEvent)
	}
	if !validNameRegex.MatchString(e.GetRepo().GetOwner().GetLogin()) {
		return fmt.Errorf("%w: invalid repository owner", errInvalidEvent)
	}
	if !validNameRegex.MatchString(e.GetRepo().GetName()) {
		return fmt.Errorf("%w: invalid repository name", errInvalidEvent)
	}
	if !validSHARegex.MatchString(e.GetPullRequest().GetHead().GetSHA()) {
		return fmt.Errorf("%w: invalid head SHA", errInvalidEvent)
	}
	return nil
}

// handlePullRequest starts a review on new revisions and closes the
// change set when the pull request closes.
func (h *Handler) handlePullRequest(ctx context.Context, e *github.PullRequestEvent) (string, error) {
	if err := validate(e); err != nil {
		h.logger.Warn(ctx, "invalid PR event data", zap.Error(err))
		return "", err
	}

	pr := e.GetPullRequest()
	repo := e.GetRepo()
	key := ledger.Key{
		Repository: repo.GetOwner().GetLogin() + "/" + repo.GetName(),
		ChangeSet:  strconv.Itoa(pr.GetNumber()),
	}
	action := e.GetAction()

	switch action {
	case "opened", "synchronize", "ready_for_review":
		h.logger.Info(ctx, "starting review",
			zap.String("changeset", key.String()),
			zap.String("action", action),
			zap.String("head_sha", pr.GetHead().GetSHA()),
		)
		err := h.trigger.StartReview(ctx, orchestrator.RunRequest{
			Key:      key,
			Revision: pr.GetHead().GetSHA(),
			Ref:      pr.GetHead().GetRef(),
			Tier:     h.tier,
		})
		if err != nil {
			return "", fmt.Errorf("starting review for %s: %w", key, err)
		}
		return "started", nil

	case "closed":
		reason := "closed"
		if pr.GetMerged() {
			reason = "merged"
		}
		h.logger.Info(ctx, "closing change set", zap.String("changeset", key.String()), zap.String("reason", reason))
		if err := h.trigger.CloseChangeSet(ctx, key, reason); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return "", fmt.Errorf("closing %s: %w", key, err)
		}
		return "closed", nil

	case "reopened":
		// Closing archived the ledger; a reopened change set stays read-only.
		h.logger.Info(ctx, "reopened change set stays archived", zap.String("changeset", key.String()))
		return "archived", nil
	}

	h.logger.Debug(ctx, "ignoring PR action", zap.String("action", action))
	return "ignored", nil
}
