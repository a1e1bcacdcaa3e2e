package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func facebookTestAdapter(handler http.Handler) (*FacebookAdapter, *httptest.Server) {
	server := httptest.NewServer(handler)
	adapter := NewFacebookAdapter(quietLogger())
	adapter.baseURL = server.URL
	return adapter, server
}

func TestFacebookUploadSuccess(t *testing.T) {
	var gotForm map[string]string
	adapter, server := facebookTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/page-1/videos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		gotForm = map[string]string{
			"title":    r.PostForm.Get("title"),
			"file_url": r.PostForm.Get("file_url"),
			"privacy":  r.PostForm.Get("privacy"),
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "98765"})
	}))
	defer server.Close()

	res, err := adapter.Upload(context.Background(),
		Artifact{SourceURL: "https://cdn.example.com/out.mp4"},
		Metadata{Title: "clip"},
		Credential{AccessToken: "page-token", PageID: "page-1"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Outcome != OutcomeSuccess || res.PostID != "98765" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotForm["title"] != "clip" || gotForm["file_url"] != "https://cdn.example.com/out.mp4" {
		t.Errorf("form not forwarded: %+v", gotForm)
	}
	if gotForm["privacy"] != `{"value":"EVERYONE"}` {
		t.Errorf("unexpected privacy %q", gotForm["privacy"])
	}
}

func TestFacebookUploadErrorEnvelope(t *testing.T) {
	adapter, server := facebookTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "token expired", "code": 190},
		})
	}))
	defer server.Close()

	res, err := adapter.Upload(context.Background(),
		Artifact{SourceURL: "https://cdn.example.com/out.mp4"},
		Metadata{}, Credential{AccessToken: "bad", PageID: "page-1"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Outcome != OutcomePermanent {
		t.Errorf("expected permanent for code 190, got %s (%s)", res.Outcome, res.Reason)
	}
}

func TestFacebookUploadRequiresPageAndURL(t *testing.T) {
	adapter := NewFacebookAdapter(quietLogger())

	res, err := adapter.Upload(context.Background(), Artifact{SourceURL: "https://x/y.mp4"},
		Metadata{}, Credential{AccessToken: "t"})
	if err != nil || res.Outcome != OutcomePermanent {
		t.Errorf("missing page_id: got %+v err %v", res, err)
	}

	res, err = adapter.Upload(context.Background(), Artifact{Path: "/tmp/local.mp4"},
		Metadata{}, Credential{AccessToken: "t", PageID: "p"})
	if err != nil || res.Outcome != OutcomePermanent {
		t.Errorf("missing source url: got %+v err %v", res, err)
	}
}

func TestFacebookFetchStats(t *testing.T) {
	adapter, server := facebookTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/98765" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"title":         "clip",
			"views":         1234,
			"permalink_url": "https://www.facebook.com/watch/?v=98765",
			"created_time":  "2026-08-01T12:00:00+0000",
		})
	}))
	defer server.Close()

	stats, err := adapter.FetchStats(context.Background(), "98765", Credential{AccessToken: "t"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Views != 1234 || stats.Title != "clip" || stats.Platform != PlatformFacebook {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.PostedAt.IsZero() {
		t.Error("expected posted_at to be parsed")
	}
}
