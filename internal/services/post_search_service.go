package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kalem/internal/database"
	"kalem/internal/models"
)

// ContentRetriever is what the chat pipeline depends on for grounding
// context. Search results are deterministic for identical store state and
// query, ordered recency-first, with a query-named category promoted to the
// front.
type ContentRetriever interface {
	Search(ctx context.Context, query string, limit int) ([]models.PostExcerpt, error)
}

// PostSearchService implements ContentRetriever over the posts collection.
type PostSearchService struct {
	mongoDB     *database.MongoDB
	resultCache *cache.Cache // query -> []models.PostExcerpt
}

// NewPostSearchService creates the Mongo-backed post retriever.
func NewPostSearchService(mongoDB *database.MongoDB) *PostSearchService {
	return &PostSearchService{
		mongoDB:     mongoDB,
		resultCache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Search finds up to limit posts matching the query across title, content
// and tags, newest first. Results are cached briefly; the call never mutates
// retrieved content.
func (s *PostSearchService) Search(ctx context.Context, query string, limit int) ([]models.PostExcerpt, error) {
	cacheKey := fmt.Sprintf("%d:%s", limit, strings.ToLower(strings.TrimSpace(query)))
	if cached, found := s.resultCache.Get(cacheKey); found {
		return cached.([]models.PostExcerpt), nil
	}

	pattern := searchPattern(query)
	filter := bson.M{
		"publishedAt": bson.M{"$lte": time.Now()},
		"$or": []bson.M{
			{"title": bson.M{"$regex": pattern, "$options": "i"}},
			{"content": bson.M{"$regex": pattern, "$options": "i"}},
			{"tags": bson.M{"$regex": pattern, "$options": "i"}},
			{"category": bson.M{"$regex": pattern, "$options": "i"}},
		},
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "publishedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.mongoDB.Collection(database.CollectionPosts).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to search posts: %w", err)
	}
	defer cursor.Close(ctx)

	var posts []models.Post
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}

	excerpts := make([]models.PostExcerpt, 0, len(posts))
	for _, post := range posts {
		excerpts = append(excerpts, models.PostExcerpt{
			ID:       post.ID.Hex(),
			Title:    post.Title,
			Category: post.Category,
			Excerpt:  postExcerpt(post),
		})
	}

	excerpts = promoteNamedCategory(query, excerpts)

	s.resultCache.Set(cacheKey, excerpts, cache.DefaultExpiration)
	log.Printf("🔎 [POST-SEARCH] %d results for query (%d chars)", len(excerpts), len(query))
	return excerpts, nil
}

// searchPattern builds a safe alternation of the query's significant words.
func searchPattern(query string) string {
	words := strings.Fields(query)
	escaped := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len([]rune(w)) < 3 {
			continue
		}
		escaped = append(escaped, regexp.QuoteMeta(w))
	}
	if len(escaped) == 0 {
		return regexp.QuoteMeta(strings.TrimSpace(query))
	}
	return strings.Join(escaped, "|")
}

// promoteNamedCategory moves items whose category is mentioned verbatim in
// the query to the front, preserving relative order on both sides.
func promoteNamedCategory(query string, items []models.PostExcerpt) []models.PostExcerpt {
	lower := strings.ToLower(query)

	var promoted, rest []models.PostExcerpt
	for _, item := range items {
		if item.Category != "" && strings.Contains(lower, strings.ToLower(item.Category)) {
			promoted = append(promoted, item)
		} else {
			rest = append(rest, item)
		}
	}
	if len(promoted) == 0 {
		return items
	}
	return append(promoted, rest...)
}

func postExcerpt(post models.Post) string {
	if post.Excerpt != "" {
		return post.Excerpt
	}
	return truncate(post.Content, 200)
}
