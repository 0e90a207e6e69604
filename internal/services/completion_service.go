package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"kalem/internal/models"
)

// Provider failure taxonomy. Handlers map these to HTTP statuses; raw
// provider error bodies never cross the API boundary.
var (
	ErrProviderQuota       = errors.New("completion provider quota exhausted")
	ErrProviderRateLimited = errors.New("completion provider rate limited")
	ErrProviderAuth        = errors.New("completion provider rejected credentials")
)

// CompletionRequest is the input to one completion call.
type CompletionRequest struct {
	Language string
	History  []models.ChatMessage
	Context  []models.PostExcerpt
	Message  string
}

// CompletionResult is the normalized provider output.
type CompletionResult struct {
	Reply            string
	PromptTokens     int
	CompletionTokens int
}

// CompletionProvider is the narrow interface the chat pipeline depends on.
// Any completion backend can be substituted behind it.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// Prompt bounds. History is windowed and each turn truncated so the prompt
// stays bounded no matter how long the conversation runs.
const (
	historyWindow   = 6
	turnCharBudget  = 400
	excerptBudget   = 4
	maxOutputTokens = 512
)

var fallbackReplies = map[string]string{
	LanguageEnglish: "I'm having trouble coming up with a reply right now. Please try again in a moment.",
	LanguageTurkish: "Şu anda bir yanıt oluşturamıyorum. Lütfen biraz sonra tekrar deneyin.",
}

var systemPrompts = map[string]string{
	LanguageEnglish: "You are the assistant of the Kalem blog. Answer briefly and helpfully, " +
		"in English. When blog posts are provided as context, ground your answer in them " +
		"and mention relevant titles. Do not invent posts that were not provided.",
	LanguageTurkish: "Kalem blogunun asistanısın. Kısa ve yardımcı yanıtlar ver, Türkçe yaz. " +
		"Bağlam olarak blog yazıları verildiyse yanıtını onlara dayandır ve ilgili " +
		"başlıklardan bahset. Verilmeyen yazılar uydurma.",
}

// CompletionService calls an OpenAI-compatible chat completions endpoint.
type CompletionService struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewCompletionService creates a completion service for the given provider.
// The client timeout bounds every provider call; the limiter caps the
// process-wide request rate against the provider.
func NewCompletionService(baseURL, apiKey, model string, timeout time.Duration) *CompletionService {
	return &CompletionService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(5), 10), // 5 req/s sustained, burst 10
	}
}

// Complete assembles a bounded prompt and performs one completion call.
// Provider failures are mapped to the taxonomy errors; no retries happen
// here, retry policy belongs to the caller.
func (s *CompletionService) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider limiter: %w", err)
	}

	payload := map[string]interface{}{
		"model":             s.model,
		"messages":          buildMessages(req),
		"stream":            false,
		"max_tokens":        maxOutputTokens,
		"temperature":       0.7,
		"presence_penalty":  0.6,
		"frequency_penalty": 0.3,
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyProviderError(resp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	reply := ""
	if len(result.Choices) > 0 {
		reply = strings.TrimSpace(result.Choices[0].Message.Content)
	}
	if reply == "" {
		// Never propagate an empty reply to the user
		log.Printf("⚠️  [COMPLETION] Provider returned no usable text, using fallback reply")
		reply = fallbackReply(req.Language)
	}

	return &CompletionResult{
		Reply:            reply,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}

// buildMessages assembles the bounded conversational context: system
// instructions, a short window of recent turns, retrieved posts as labeled
// excerpts, and the new message.
func buildMessages(req CompletionRequest) []map[string]string {
	system := systemPrompts[req.Language]
	if system == "" {
		system = systemPrompts[LanguageEnglish]
	}

	messages := []map[string]string{
		{"role": "system", "content": system},
	}

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, msg := range history {
		messages = append(messages, map[string]string{
			"role":    msg.Role,
			"content": truncate(msg.Content, turnCharBudget),
		})
	}

	if len(req.Context) > 0 {
		var b strings.Builder
		b.WriteString("Relevant blog posts:\n")
		excerpts := req.Context
		if len(excerpts) > excerptBudget {
			excerpts = excerpts[:excerptBudget]
		}
		for _, item := range excerpts {
			fmt.Fprintf(&b, "- %s (%s): %s\n", item.Title, item.Category, truncate(item.Excerpt, 200))
		}
		messages = append(messages, map[string]string{
			"role":    "system",
			"content": b.String(),
		})
	}

	messages = append(messages, map[string]string{
		"role":    "user",
		"content": req.Message,
	})
	return messages
}

// classifyProviderError maps a non-200 provider response to the failure
// taxonomy. The full body is logged server-side only.
func classifyProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)

	log.Printf("❌ [COMPLETION] Provider error (status %d, code %q): %s",
		resp.StatusCode, apiErr.Error.Code, truncate(apiErr.Error.Message, 300))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrProviderAuth
	case resp.StatusCode == http.StatusTooManyRequests &&
		(apiErr.Error.Code == "insufficient_quota" || apiErr.Error.Type == "insufficient_quota"):
		return ErrProviderQuota
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrProviderRateLimited
	default:
		return fmt.Errorf("completion API error (status %d)", resp.StatusCode)
	}
}

func fallbackReply(language string) string {
	if reply, ok := fallbackReplies[language]; ok {
		return reply
	}
	return fallbackReplies[LanguageEnglish]
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
