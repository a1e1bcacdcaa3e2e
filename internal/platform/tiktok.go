package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	tiktokAPIBase = "https://open.tiktokapis.com/v2"

	// TikTok accepts at most 10 MB per chunk on direct post uploads.
	tiktokChunkSize = 10 * 1024 * 1024
)

// TikTokAdapter publishes through the TikTok Content Posting API: an init
// call reserves an upload slot, then the video is PUT in chunks to the
// returned URL. Unaudited API clients may only post as SELF_ONLY.
type TikTokAdapter struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL string
}

func NewTikTokAdapter(logger *slog.Logger) *TikTokAdapter {
	return &TikTokAdapter{
		logger:  logger,
		client:  &http.Client{Timeout: 5 * time.Minute},
		baseURL: tiktokAPIBase,
	}
}

func (a *TikTokAdapter) Name() string { return PlatformTikTok }

type tiktokEnvelope struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *TikTokAdapter) Upload(ctx context.Context, artifact Artifact, meta Metadata, cred Credential) (Result, error) {
	if cred.AccessToken == "" {
		return permanent("tiktok upload needs an access token"), nil
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		return Result{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat artifact: %w", err)
	}
	videoSize := fi.Size()
	if videoSize == 0 {
		return Result{}, fmt.Errorf("artifact %s is empty", artifact.Path)
	}

	chunkSize, totalChunks := tiktokChunkPlan(videoSize)

	initBody := map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":                    meta.Title,
			"privacy_level":            "SELF_ONLY",
			"disable_duet":             false,
			"disable_comment":          false,
			"disable_stitch":           false,
			"video_cover_timestamp_ms": 1000,
		},
		"source_info": map[string]interface{}{
			"source":            "FILE_UPLOAD",
			"video_size":        videoSize,
			"chunk_size":        chunkSize,
			"total_chunk_count": totalChunks,
		},
	}
	payload, err := json.Marshal(initBody)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/post/publish/video/init/", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	a.logger.Info("tiktok upload starting", "size_bytes", videoSize, "chunks", totalChunks)

	resp, err := a.client.Do(req)
	if err != nil {
		return retryable("tiktok init: %v", err), nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return permanent("tiktok auth rejected (http %d): %s", resp.StatusCode, body), nil
	}
	if resp.StatusCode != 200 {
		return classifyHTTP(resp.StatusCode, string(body)), nil
	}

	var env tiktokEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return retryable("tiktok init decode: %v", err), nil
	}
	if env.Error.Code != "ok" {
		return classifyTikTokCode(env.Error.Code, env.Error.Message), nil
	}
	if env.Data.UploadURL == "" {
		return permanent("tiktok init returned no upload url"), nil
	}

	if res, ok := a.putChunks(ctx, f, env.Data.UploadURL, videoSize, chunkSize); !ok {
		return res, nil
	}

	a.logger.Info("tiktok upload succeeded", "publish_id", env.Data.PublishID)
	// TikTok direct posts expose no public URL until review completes.
	return success(env.Data.PublishID, ""), nil
}

func (a *TikTokAdapter) putChunks(ctx context.Context, f *os.File, uploadURL string, videoSize, chunkSize int64) (Result, bool) {
	buf := make([]byte, chunkSize)
	var sent int64
	for sent < videoSize {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// Final short chunk.
		} else if err != nil {
			return retryable("tiktok chunk read: %v", err), false
		}
		if n == 0 {
			break
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(buf[:n]))
		if err != nil {
			return retryable("tiktok chunk request: %v", err), false
		}
		req.Header.Set("Content-Type", "video/mp4")
		req.ContentLength = int64(n)
		req.Header.Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", sent, sent+int64(n)-1, videoSize))

		resp, err := a.client.Do(req)
		if err != nil {
			return retryable("tiktok chunk upload: %v", err), false
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode != 200 && resp.StatusCode != 201 && resp.StatusCode != 202 {
			return classifyHTTP(resp.StatusCode, string(body)), false
		}
		sent += int64(n)
	}
	return Result{}, true
}

// FetchStats queries the post publish status; TikTok exposes no view
// counters through the Content Posting API.
func (a *TikTokAdapter) FetchStats(ctx context.Context, postID string, cred Credential) (*ViewStats, error) {
	payload, _ := json.Marshal(map[string]string{"publish_id": postID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/post/publish/status/fetch/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiktok status: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("tiktok status decode: %w", err)
	}
	if env.Error.Code != "ok" {
		return nil, fmt.Errorf("tiktok status: %s (%s)", env.Error.Message, env.Error.Code)
	}

	return &ViewStats{
		Platform:  PlatformTikTok,
		PostID:    postID,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// classifyTikTokCode maps the API's string error codes. Token problems and
// scope errors are permanent; throttling and internal errors are retryable.
func classifyTikTokCode(code, message string) Result {
	switch code {
	case "rate_limit_exceeded", "internal_error":
		return retryable("tiktok: %s (%s)", message, code)
	default:
		return permanent("tiktok: %s (%s)", message, code)
	}
}

// tiktokChunkPlan mirrors the API contract: whole-file upload when the
// video fits in one chunk, otherwise fixed 10 MB chunks with a short tail.
func tiktokChunkPlan(videoSize int64) (chunkSize int64, totalChunks int64) {
	chunkSize = tiktokChunkSize
	if videoSize < chunkSize {
		chunkSize = videoSize
	}
	totalChunks = (videoSize + chunkSize - 1) / chunkSize
	return chunkSize, totalChunks
}
