package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"kalem/internal/logging"
	"kalem/internal/models"
)

// Input validation errors, mapped to 400 at the handler boundary.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
)

// Actor identifies who is talking to the chatbot.
type Actor struct {
	ID   string
	Type string // models.UserTypeGuest or models.UserTypeAuthenticated
}

// ChatReply is the pipeline's externally visible result.
type ChatReply struct {
	Reply     string
	SessionID string
	Language  string
	UserType  string
}

// Language is re-detected on session creation and then every Nth user turn;
// between those points the sticky classification is reused.
const languageRedetectEvery = 5

const retrievalLimit = 4

// ChatService coordinates one chat turn: validate, resolve the session,
// decide on retrieval, call the completion provider, record the turn and
// emit telemetry.
type ChatService struct {
	sessions  *SessionStore
	retriever ContentRetriever // nil when no content store is configured
	provider  CompletionProvider
	analytics *AnalyticsService
	metrics   *Metrics // optional
	detect    LanguageDetector

	maxMessageLen int
}

// NewChatService creates the chat request pipeline. retriever and metrics
// may be nil; analytics must not be.
func NewChatService(
	sessions *SessionStore,
	retriever ContentRetriever,
	provider CompletionProvider,
	analytics *AnalyticsService,
	maxMessageLen int,
) *ChatService {
	return &ChatService{
		sessions:      sessions,
		retriever:     retriever,
		provider:      provider,
		analytics:     analytics,
		detect:        DetectLanguage,
		maxMessageLen: maxMessageLen,
	}
}

// SetMetrics sets the optional Prometheus metrics sink
func (s *ChatService) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// SetLanguageDetector replaces the language detection strategy
func (s *ChatService) SetLanguageDetector(detect LanguageDetector) {
	s.detect = detect
}

// HandleMessage runs the full pipeline for one inbound message. Validation
// failures leave the session store untouched; messages are appended to the
// session only after a successful completion.
func (s *ChatService) HandleMessage(ctx context.Context, actor Actor, message string) (*ChatReply, error) {
	started := time.Now()

	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return nil, ErrMessageTooLong
	}

	if s.metrics != nil {
		s.metrics.RecordChatRequest()
	}

	_, created := s.sessions.GetOrCreate(actor.ID)
	s.sessions.Touch(actor.ID)

	language, userTurns, _, _ := s.sessions.Snapshot(actor.ID)
	if created || userTurns%languageRedetectEvery == 0 {
		language = s.detect(trimmed)
		s.sessions.SetLanguage(actor.ID, language)
	}

	logger := logging.WithTurn(actor.ID, actor.Type, language)

	var retrieved []models.PostExcerpt
	retrievalUsed := false
	if s.retriever != nil && needsRetrieval(trimmed) {
		retrievalUsed = true
		results, err := s.retriever.Search(ctx, trimmed, retrievalLimit)
		if err != nil {
			// Retrieval is grounding, not correctness: degrade to no context
			logger.Warn("content retrieval failed, continuing without context", "error", err)
		} else {
			retrieved = results
		}
		if s.metrics != nil {
			s.metrics.RecordRetrieval()
		}
	}

	history := s.sessions.RecentMessages(actor.ID, historyWindow)

	result, err := s.provider.Complete(ctx, CompletionRequest{
		Language: language,
		History:  history,
		Context:  retrieved,
		Message:  trimmed,
	})
	if err != nil {
		kind := errorKind(err)
		if s.metrics != nil {
			s.metrics.RecordChatError(kind)
		}
		s.analytics.RecordInteraction(ctx, &ChatInteraction{
			UserID:         actor.ID,
			UserType:       actor.Type,
			Language:       language,
			RetrievalUsed:  retrievalUsed,
			ResultCount:    len(retrieved),
			DurationMs:     time.Since(started).Milliseconds(),
			MessagePreview: truncate(trimmed, 120),
			ErrorKind:      kind,
		})
		return nil, err
	}

	s.sessions.AppendTurn(actor.ID, models.RoleUser, trimmed)
	s.sessions.AppendTurn(actor.ID, models.RoleAssistant, result.Reply)

	s.analytics.RecordInteraction(ctx, &ChatInteraction{
		UserID:         actor.ID,
		UserType:       actor.Type,
		Language:       language,
		RetrievalUsed:  retrievalUsed,
		ResultCount:    len(retrieved),
		PromptTokens:   result.PromptTokens,
		ReplyTokens:    result.CompletionTokens,
		DurationMs:     time.Since(started).Milliseconds(),
		MessagePreview: truncate(trimmed, 120),
		ReplyPreview:   truncate(result.Reply, 120),
	})

	if s.metrics != nil {
		s.metrics.RecordChatLatency(time.Since(started).Seconds())
	}
	logger.Debug("chat turn completed",
		"duration_ms", time.Since(started).Milliseconds(),
		"retrieval", retrievalUsed,
		"new_session", created,
	)

	return &ChatReply{
		Reply:     result.Reply,
		SessionID: actor.ID,
		Language:  language,
		UserType:  actor.Type,
	}, nil
}

// ClearHistory removes the actor's session. Idempotent.
func (s *ChatService) ClearHistory(actorID string) {
	s.sessions.Clear(actorID)
	log.Printf("🗑️  [CHAT] Cleared chat history for actor %s", actorID)
}

// Retrieval is only worth its I/O when the message plausibly asks about
// content: a content keyword, a question, or a long message.
var retrievalKeywords = []string{
	"blog", "post", "article", "articles", "category", "categories",
	"read", "recommend", "suggest", "latest", "about", "topic",
	"yazı", "yazılar", "makale", "kategori", "konu", "oku", "öner", "hakkında", "son",
}

func needsRetrieval(message string) bool {
	if strings.Contains(message, "?") {
		return true
	}
	if utf8.RuneCountInString(message) > 120 {
		return true
	}
	lower := strings.ToLower(message)
	for _, kw := range retrievalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// errorKind buckets a pipeline error for telemetry
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrProviderQuota):
		return "provider_quota"
	case errors.Is(err, ErrProviderRateLimited):
		return "provider_rate_limited"
	case errors.Is(err, ErrProviderAuth):
		return "provider_auth"
	default:
		return "internal"
	}
}
