package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ocs/internal/storage/sqlite3"
)

// SocialPost mirrors the social_posts table.
type SocialPost struct {
	ID        string
	Platform  string
	Content   string
	Status    string
	PostedAt  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SocialPosts struct {
	db *sqlite3.SQLite
}

func NewSocialPosts(db *sqlite3.SQLite) *SocialPosts {
	return &SocialPosts{db: db}
}

func (s *SocialPosts) Create(ctx context.Context, post SocialPost) (*SocialPost, error) {
	if post.Content == "" {
		return nil, fmt.Errorf("store: social post content is required")
	}
	if post.Status == "" {
		post.Status = "draft"
	}

	now := time.Now().UTC()
	post.ID = ulid.Make().String()
	post.CreatedAt = now
	post.UpdatedAt = now

	record := goqu.Record{
		"id":         post.ID,
		"platform":   post.Platform,
		"content":    post.Content,
		"status":     post.Status,
		"posted_at":  nullableString(post.PostedAt),
		"created_at": now.Format(time.RFC3339),
		"updated_at": now.Format(time.RFC3339),
	}

	query, _, err := s.db.Goqu().Insert(s.db.Table("social_posts")).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build social_posts insert: %w", err)
	}

	if _, err := s.db.DB().ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert social post: %w", err)
	}

	return &post, nil
}

// DuplicateCheck is the outcome of CheckSocialDuplicate.
type DuplicateCheck struct {
	IsDuplicate bool
	Similarity  float64
	MatchedPost *SocialPost
}

var wordSplitRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// wordSet lowercases, strips punctuation, and keeps tokens longer than 3
// characters, as a set (spec §4.6 checkSocialDuplicate).
func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, word := range wordSplitRe.Split(strings.ToLower(s), -1) {
		if len(word) > 3 {
			set[word] = true
		}
	}

	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}

// CheckSocialDuplicate computes Jaccard similarity over the last 30 posts
// on platform, returning the best match at or above threshold (spec §4.6,
// default threshold 0.6).
func (s *SocialPosts) CheckSocialDuplicate(ctx context.Context, platform, content string, threshold float64) (*DuplicateCheck, error) {
	if threshold == 0 {
		threshold = 0.6
	}

	ds := s.db.Goqu().From(s.db.Table("social_posts")).
		Where(goqu.I("platform").Eq(platform)).
		Order(goqu.I("created_at").Desc()).
		Limit(30)

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build social_posts dedupe query: %w", err)
	}

	rows, err := s.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query social posts: %w", err)
	}
	defer rows.Close()

	target := wordSet(content)

	best := &DuplicateCheck{}

	for rows.Next() {
		var (
			id, platform, postContent, status, createdAt, updatedAt string
			postedAt                                                *string
		)

		if err := rows.Scan(&id, &platform, &postContent, &status, &postedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan social post row: %w", err)
		}

		sim := jaccard(target, wordSet(postContent))
		if sim >= threshold && sim > best.Similarity {
			post := SocialPost{ID: id, Platform: platform, Content: postContent, Status: status}
			if postedAt != nil {
				post.PostedAt = *postedAt
			}
			if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
				post.CreatedAt = ts
			}

			best.IsDuplicate = true
			best.Similarity = sim
			best.MatchedPost = &post
		}
	}

	return best, rows.Err()
}
