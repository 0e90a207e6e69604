package models

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Actor types attached by the auth middleware
const (
	UserTypeGuest         = "guest"
	UserTypeAuthenticated = "authenticated"
)

// ChatMessage is a single turn stored in a conversation session
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the success envelope of POST /api/chat
type ChatResponse struct {
	Success   bool   `json:"success"`
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
	UserType  string `json:"userType"`
}

// PostExcerpt is a retrieved content item handed to the completion provider
// as grounding context. Excerpt is a short snippet, never the full body.
type PostExcerpt struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Excerpt  string `json:"excerpt"`
}
