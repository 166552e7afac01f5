package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestListModels(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		if r.URL.Path != "/api/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("filter"); got != "text-to-image" {
			t.Errorf("expected filter=text-to-image, got %q", got)
		}
		if r.URL.Query().Has("limit") || r.URL.Query().Has("sort") {
			t.Errorf("unexpected optional params: %s", r.URL.RawQuery)
		}
		if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
			t.Errorf("unexpected user agent: %s", ua)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id":"stabilityai/sdxl","modelId":"stabilityai/sdxl","downloads":10,"pipeline_tag":"text-to-image"},
			{"id":"black-forest-labs/FLUX.1-schnell","likes":3}
		]`)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	models, err := client.ListModels(context.Background(), ListOptions{Filter: TextToImage})
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly one request, got %d", calls)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Identifier() != "stabilityai/sdxl" {
		t.Errorf("unexpected first identifier: %s", models[0].Identifier())
	}
	if models[0].Downloads != 10 || models[0].PipelineTag != "text-to-image" {
		t.Errorf("metadata not decoded: %+v", models[0])
	}
	t.Run("falls back to id", func(t *testing.T) {
		if models[1].Identifier() != "black-forest-labs/FLUX.1-schnell" {
			t.Errorf("unexpected identifier: %s", models[1].Identifier())
		}
	})
}

func TestListModelsOptionalParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("search") != "flux" || q.Get("author") != "black-forest-labs" {
			t.Errorf("search/author not forwarded: %s", r.URL.RawQuery)
		}
		if q.Get("sort") != "downloads" || q.Get("direction") != "-1" {
			t.Errorf("sort not forwarded: %s", r.URL.RawQuery)
		}
		if q.Get("limit") != "5" {
			t.Errorf("limit not forwarded: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL + "/"))
	models, err := client.ListModels(context.Background(), ListOptions{
		Filter: TextToImage,
		Search: "flux",
		Author: "black-forest-labs",
		Sort:   "downloads",
		Limit:  5,
	})
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("expected empty result, got %d", len(models))
	}
}

func TestListModelsErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream down")
		}))
		defer srv.Close()

		_, err := NewClient(WithBaseURL(srv.URL)).ListModels(context.Background(), ListOptions{Filter: TextToImage})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusBadGateway || apiErr.Body != "upstream down" {
			t.Errorf("unexpected error contents: %+v", apiErr)
		}
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"not":"a list"`)
		}))
		defer srv.Close()

		_, err := NewClient(WithBaseURL(srv.URL)).ListModels(context.Background(), ListOptions{})
		if err == nil || !strings.Contains(err.Error(), "decode") {
			t.Errorf("expected decode error, got %v", err)
		}
	})

	t.Run("transport", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := NewClient(WithBaseURL(url)).ListModels(context.Background(), ListOptions{})
		if err == nil {
			t.Fatal("expected transport error")
		}
	})
}

func TestGetModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/models/prompthero/openjourney":
			fmt.Fprint(w, `{"id":"prompthero/openjourney","modelId":"prompthero/openjourney","gated":"manual","tags":["diffusers"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))

	model, err := client.GetModel(context.Background(), "prompthero/openjourney")
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if model.Identifier() != "prompthero/openjourney" {
		t.Errorf("unexpected id: %s", model.Identifier())
	}
	if !model.IsGated() {
		t.Error("expected gated model")
	}

	_, err = client.GetModel(context.Background(), "nobody/nothing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := client.GetModel(context.Background(), " "); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestTrimBody(t *testing.T) {
	long := strings.Repeat("x", maxErrorBody+10)
	got := trimBody([]byte(long))
	if !strings.HasSuffix(got, "...") || len(got) != maxErrorBody+3 {
		t.Errorf("body not trimmed: len=%d", len(got))
	}
}
