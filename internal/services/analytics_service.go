package services

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kalem/internal/database"
)

// ErrAnalyticsDisabled is returned by queries when no Mongo is configured.
var ErrAnalyticsDisabled = errors.New("analytics storage is not configured")

// AnalyticsService records chat interactions (non-invasive, fire-and-forget).
// Recording failures never affect request outcomes. With no Mongo the
// service degrades to in-memory counters only.
type AnalyticsService struct {
	mongoDB *database.MongoDB

	interactions atomic.Int64
	rateLimited  atomic.Int64
	failures     atomic.Int64
}

// NewAnalyticsService creates a new analytics service. mongoDB may be nil.
func NewAnalyticsService(mongoDB *database.MongoDB) *AnalyticsService {
	return &AnalyticsService{mongoDB: mongoDB}
}

// ChatInteraction stores one chat turn's telemetry. Previews are truncated;
// full message bodies are never persisted here.
type ChatInteraction struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID         string             `bson:"userId" json:"userId"`
	UserType       string             `bson:"userType" json:"userType"`
	Language       string             `bson:"language" json:"language"`
	RetrievalUsed  bool               `bson:"retrievalUsed" json:"retrievalUsed"`
	ResultCount    int                `bson:"resultCount,omitempty" json:"resultCount,omitempty"`
	PromptTokens   int                `bson:"promptTokens,omitempty" json:"promptTokens,omitempty"`
	ReplyTokens    int                `bson:"replyTokens,omitempty" json:"replyTokens,omitempty"`
	DurationMs     int64              `bson:"durationMs" json:"durationMs"`
	MessagePreview string             `bson:"messagePreview,omitempty" json:"messagePreview,omitempty"`
	ReplyPreview   string             `bson:"replyPreview,omitempty" json:"replyPreview,omitempty"`
	ErrorKind      string             `bson:"errorKind,omitempty" json:"errorKind,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
}

// ChatRateEvent records one rejected chat request.
type ChatRateEvent struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId,omitempty" json:"userId,omitempty"`
	SourceIP  string             `bson:"sourceIp" json:"sourceIp"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// RecordInteraction persists one chat interaction record. Best-effort:
// failures are logged and swallowed.
func (s *AnalyticsService) RecordInteraction(ctx context.Context, rec *ChatInteraction) {
	s.interactions.Add(1)
	if rec.ErrorKind != "" {
		s.failures.Add(1)
	}

	if s.mongoDB == nil {
		return
	}

	rec.CreatedAt = time.Now()
	if _, err := s.mongoDB.Collection(database.CollectionChatInteractions).InsertOne(ctx, rec); err != nil {
		log.Printf("⚠️  [ANALYTICS] Failed to record chat interaction: %v", err)
	}
}

// RecordRateLimited records a rejected-for-rate request. Best-effort.
func (s *AnalyticsService) RecordRateLimited(ctx context.Context, userID, sourceIP string) {
	s.rateLimited.Add(1)

	if s.mongoDB == nil {
		return
	}

	event := &ChatRateEvent{
		UserID:    userID,
		SourceIP:  sourceIP,
		CreatedAt: time.Now(),
	}
	if _, err := s.mongoDB.Collection(database.CollectionChatRateEvents).InsertOne(ctx, event); err != nil {
		log.Printf("⚠️  [ANALYTICS] Failed to record rate limit event: %v", err)
	}
}

// InteractionCount returns the interactions recorded since process start.
func (s *AnalyticsService) InteractionCount() int64 { return s.interactions.Load() }

// RateLimitedCount returns the rate-limit rejections since process start.
func (s *AnalyticsService) RateLimitedCount() int64 { return s.rateLimited.Load() }

// ChatSummary aggregates interaction counters for the admin endpoint.
type ChatSummary struct {
	Since        time.Time        `json:"since"`
	Total        int64            `json:"total"`
	ByLanguage   map[string]int64 `json:"byLanguage"`
	ByUserType   map[string]int64 `json:"byUserType"`
	Retrievals   int64            `json:"retrievals"`
	PromptTokens int64            `json:"promptTokens"`
	ReplyTokens  int64            `json:"replyTokens"`
	Errors       map[string]int64 `json:"errors"`
	RateLimited  int64            `json:"rateLimited"`
}

// Summary aggregates chat interactions recorded since the given time.
func (s *AnalyticsService) Summary(ctx context.Context, since time.Time) (*ChatSummary, error) {
	if s.mongoDB == nil {
		return nil, ErrAnalyticsDisabled
	}

	summary := &ChatSummary{
		Since:      since,
		ByLanguage: make(map[string]int64),
		ByUserType: make(map[string]int64),
		Errors:     make(map[string]int64),
	}

	coll := s.mongoDB.Collection(database.CollectionChatInteractions)
	match := bson.M{"createdAt": bson.M{"$gte": since}}

	// Totals, token usage and retrieval rate in one pass
	cursor, err := coll.Aggregate(ctx, []bson.M{
		{"$match": match},
		{"$group": bson.M{
			"_id":          nil,
			"total":        bson.M{"$sum": 1},
			"retrievals":   bson.M{"$sum": bson.M{"$cond": bson.A{"$retrievalUsed", 1, 0}}},
			"promptTokens": bson.M{"$sum": "$promptTokens"},
			"replyTokens":  bson.M{"$sum": "$replyTokens"},
		}},
	})
	if err != nil {
		return nil, err
	}
	var totals []struct {
		Total        int64 `bson:"total"`
		Retrievals   int64 `bson:"retrievals"`
		PromptTokens int64 `bson:"promptTokens"`
		ReplyTokens  int64 `bson:"replyTokens"`
	}
	if err := cursor.All(ctx, &totals); err != nil {
		return nil, err
	}
	if len(totals) > 0 {
		summary.Total = totals[0].Total
		summary.Retrievals = totals[0].Retrievals
		summary.PromptTokens = totals[0].PromptTokens
		summary.ReplyTokens = totals[0].ReplyTokens
	}

	// Language mix
	if err := s.groupCounts(ctx, match, "$language", summary.ByLanguage); err != nil {
		return nil, err
	}

	// Guest vs authenticated mix
	if err := s.groupCounts(ctx, match, "$userType", summary.ByUserType); err != nil {
		return nil, err
	}

	// Error kinds (records with errorKind set)
	errMatch := bson.M{"createdAt": bson.M{"$gte": since}, "errorKind": bson.M{"$ne": ""}}
	if err := s.groupCounts(ctx, errMatch, "$errorKind", summary.Errors); err != nil {
		return nil, err
	}

	rateLimited, err := s.mongoDB.Collection(database.CollectionChatRateEvents).
		CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": since}})
	if err != nil {
		return nil, err
	}
	summary.RateLimited = rateLimited

	return summary, nil
}

func (s *AnalyticsService) groupCounts(ctx context.Context, match bson.M, field string, out map[string]int64) error {
	cursor, err := s.mongoDB.Collection(database.CollectionChatInteractions).Aggregate(ctx, []bson.M{
		{"$match": match},
		{"$group": bson.M{"_id": field, "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return err
	}
	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID != "" {
			out[row.ID] = row.Count
		}
	}
	return nil
}
