package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const facebookGraphBase = "https://graph.facebook.com/v23.0"

// FacebookAdapter posts a video to a Facebook page through the Graph API.
// The upload is by file_url, so the artifact must be reachable at a public
// URL; local-only artifacts cannot be published here.
type FacebookAdapter struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL string
}

func NewFacebookAdapter(logger *slog.Logger) *FacebookAdapter {
	return &FacebookAdapter{
		logger:  logger,
		client:  &http.Client{Timeout: 5 * time.Minute},
		baseURL: facebookGraphBase,
	}
}

func (a *FacebookAdapter) Name() string { return PlatformFacebook }

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (a *FacebookAdapter) Upload(ctx context.Context, artifact Artifact, meta Metadata, cred Credential) (Result, error) {
	if cred.PageID == "" {
		return permanent("facebook upload needs a page_id"), nil
	}
	if cred.AccessToken == "" {
		return permanent("facebook upload needs a page access token"), nil
	}
	if artifact.SourceURL == "" {
		return permanent("facebook upload needs a publicly reachable artifact url"), nil
	}

	form := url.Values{}
	form.Set("title", meta.Title)
	form.Set("description", meta.Description)
	form.Set("file_url", artifact.SourceURL)
	form.Set("access_token", cred.AccessToken)
	form.Set("privacy", `{"value":"EVERYONE"}`)
	if len(meta.Tags) > 0 {
		form.Set("tags", strings.Join(meta.Tags, ","))
	}

	endpoint := fmt.Sprintf("%s/%s/videos", a.baseURL, cred.PageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	a.logger.Info("facebook upload starting", "page_id", cred.PageID, "title", meta.Title)

	resp, err := a.client.Do(req)
	if err != nil {
		return retryable("facebook upload: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retryable("facebook response read: %v", err), nil
	}

	var parsed struct {
		ID    string      `json:"id"`
		Error *graphError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return classifyHTTP(resp.StatusCode, string(body)), nil
	}
	if parsed.Error != nil {
		return classifyGraphError(parsed.Error), nil
	}
	if parsed.ID == "" {
		return permanent("facebook upload returned no video id"), nil
	}

	a.logger.Info("facebook upload succeeded", "video_id", parsed.ID)
	return success(parsed.ID, "https://www.facebook.com/"+parsed.ID), nil
}

func (a *FacebookAdapter) FetchStats(ctx context.Context, postID string, cred Credential) (*ViewStats, error) {
	params := url.Values{}
	params.Set("access_token", cred.AccessToken)
	params.Set("fields", "title,description,created_time,permalink_url,views")

	endpoint := fmt.Sprintf("%s/%s?%s", a.baseURL, postID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facebook stats: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Title        string      `json:"title"`
		Description  string      `json:"description"`
		CreatedTime  string      `json:"created_time"`
		PermalinkURL string      `json:"permalink_url"`
		Views        int64       `json:"views"`
		Error        *graphError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("facebook stats decode: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("facebook stats: %s (code %d)", parsed.Error.Message, parsed.Error.Code)
	}

	stats := &ViewStats{
		Platform:  PlatformFacebook,
		PostID:    postID,
		Title:     parsed.Title,
		URL:       parsed.PermalinkURL,
		Views:     parsed.Views,
		FetchedAt: time.Now().UTC(),
	}
	if stats.URL == "" {
		stats.URL = "https://www.facebook.com/" + postID
	}
	if t, err := time.Parse("2006-01-02T15:04:05-0700", parsed.CreatedTime); err == nil {
		stats.PostedAt = t
	}
	return stats, nil
}

// classifyGraphError maps Graph API error codes: expired or invalid tokens
// and permission errors are permanent, rate limits and transient platform
// errors are retryable.
func classifyGraphError(ge *graphError) Result {
	switch ge.Code {
	case 1, 2: // API unknown / API service
		return retryable("facebook: %s (code %d)", ge.Message, ge.Code)
	case 4, 17, 32, 613: // throttling
		return retryable("facebook rate limited: %s (code %d)", ge.Message, ge.Code)
	default:
		return permanent("facebook: %s (code %d)", ge.Message, ge.Code)
	}
}
