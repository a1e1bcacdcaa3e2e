// Package platform normalises video publishing across social platforms.
// Each adapter performs exactly one upload attempt and reports the outcome
// as a tagged Result; retry policy lives with the caller.
package platform

import (
	"context"
	"fmt"
	"time"
)

const (
	PlatformYouTube  = "youtube"
	PlatformFacebook = "facebook"
	PlatformTikTok   = "tiktok"
)

// Outcome classifies a single upload attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_failure"
	OutcomePermanent Outcome = "permanent_failure"
)

// Result is the normalised outcome of one upload attempt. PostID is set
// only on success; Reason carries the platform's failure detail otherwise.
type Result struct {
	Outcome Outcome
	PostID  string
	PostURL string
	Reason  string
}

func success(postID, postURL string) Result {
	return Result{Outcome: OutcomeSuccess, PostID: postID, PostURL: postURL}
}

func retryable(format string, args ...interface{}) Result {
	return Result{Outcome: OutcomeRetryable, Reason: fmt.Sprintf(format, args...)}
}

func permanent(format string, args ...interface{}) Result {
	return Result{Outcome: OutcomePermanent, Reason: fmt.Sprintf(format, args...)}
}

// Metadata describes the post to create alongside the video bytes.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Privacy     string   `json:"privacy,omitempty"`
}

// Credential carries per-publish platform credentials. Tokens are held in
// memory only and never persisted.
type Credential struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	// PageID selects the Facebook page to post to.
	PageID string `json:"page_id,omitempty"`
}

// Refreshable reports whether the credential can mint fresh access tokens.
func (c Credential) Refreshable() bool {
	return c.RefreshToken != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Artifact is the rendered video to publish.
type Artifact struct {
	Path       string
	SourceURL  string
	MimeType   string
	DurationMs int64
}

// ViewStats is the cross-platform view of post engagement. Platforms that
// do not report a counter leave it at zero.
type ViewStats struct {
	Platform  string    `json:"platform"`
	PostID    string    `json:"post_id"`
	Title     string    `json:"title,omitempty"`
	URL       string    `json:"url,omitempty"`
	Views     int64     `json:"views"`
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
	Shares    int64     `json:"shares"`
	PostedAt  time.Time `json:"posted_at,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Adapter is one platform integration. Upload performs a single attempt
// and never retries; transient transport errors come back as a retryable
// Result rather than an error. The error return is reserved for local
// faults such as an unreadable artifact.
type Adapter interface {
	Name() string
	Upload(ctx context.Context, artifact Artifact, meta Metadata, cred Credential) (Result, error)
	FetchStats(ctx context.Context, postID string, cred Credential) (*ViewStats, error)
}

// classifyHTTP maps an HTTP status from a platform API to an outcome for
// responses that carry no richer error envelope.
func classifyHTTP(status int, body string) Result {
	switch {
	case status == 429 || status >= 500:
		return retryable("http %d: %s", status, body)
	default:
		return permanent("http %d: %s", status, body)
	}
}
