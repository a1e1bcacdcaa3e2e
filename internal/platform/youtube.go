package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YouTubeAdapter publishes via the YouTube Data API v3 using a resumable
// upload. Credentials are a refresh token plus OAuth client pair.
type YouTubeAdapter struct {
	logger *slog.Logger
}

func NewYouTubeAdapter(logger *slog.Logger) *YouTubeAdapter {
	return &YouTubeAdapter{logger: logger}
}

func (a *YouTubeAdapter) Name() string { return PlatformYouTube }

func (a *YouTubeAdapter) service(ctx context.Context, cred Credential) (*youtube.Service, error) {
	if !cred.Refreshable() && cred.AccessToken == "" {
		return nil, errors.New("youtube credential needs an access token or a refresh token with client id/secret")
	}

	var source oauth2.TokenSource
	if cred.Refreshable() {
		conf := &oauth2.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
		}
		token := &oauth2.Token{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			Expiry:       time.Now().Add(-time.Hour),
		}
		source = conf.TokenSource(ctx, token)
	} else {
		source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	}

	return youtube.NewService(ctx, option.WithTokenSource(source))
}

func (a *YouTubeAdapter) Upload(ctx context.Context, artifact Artifact, meta Metadata, cred Credential) (Result, error) {
	svc, err := a.service(ctx, cred)
	if err != nil {
		return permanent("youtube auth: %v", err), nil
	}

	privacy := meta.Privacy
	if privacy == "" {
		privacy = "private"
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        meta.Tags,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		return Result{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	a.logger.Info("youtube upload starting", "title", meta.Title, "privacy", privacy)

	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(f).Context(ctx).Do()
	if err != nil {
		return a.classify(cred, err), nil
	}

	url := "https://www.youtube.com/watch?v=" + uploaded.Id
	a.logger.Info("youtube upload succeeded", "video_id", uploaded.Id)
	return success(uploaded.Id, url), nil
}

func (a *YouTubeAdapter) FetchStats(ctx context.Context, postID string, cred Credential) (*ViewStats, error) {
	svc, err := a.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Videos.List([]string{"statistics", "snippet"}).Id(postID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube stats: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("youtube video %s not found", postID)
	}

	item := resp.Items[0]
	stats := &ViewStats{
		Platform:  PlatformYouTube,
		PostID:    postID,
		URL:       "https://www.youtube.com/watch?v=" + postID,
		FetchedAt: time.Now().UTC(),
	}
	if item.Snippet != nil {
		stats.Title = item.Snippet.Title
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			stats.PostedAt = t
		}
	}
	if item.Statistics != nil {
		stats.Views = int64(item.Statistics.ViewCount)
		stats.Likes = int64(item.Statistics.LikeCount)
		stats.Comments = int64(item.Statistics.CommentCount)
	}
	return stats, nil
}

// classify maps YouTube API errors to outcomes. Auth failures are permanent
// only when no refresh token is available to recover with.
func (a *YouTubeAdapter) classify(cred Credential, err error) Result {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Transport-level failure.
		return retryable("youtube upload: %v", err)
	}

	switch {
	case apiErr.Code == 401 || apiErr.Code == 403:
		if cred.Refreshable() {
			return retryable("youtube auth rejected (http %d): %s", apiErr.Code, apiErr.Message)
		}
		return permanent("youtube auth rejected (http %d): %s", apiErr.Code, apiErr.Message)
	case apiErr.Code == 429 || apiErr.Code >= 500:
		return retryable("youtube upload (http %d): %s", apiErr.Code, apiErr.Message)
	default:
		return permanent("youtube upload (http %d): %s", apiErr.Code, apiErr.Message)
	}
}
