package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flatshare/internal/domain"
)

func newTestAnthropic(url string) *Anthropic {
	return NewAnthropic(AnthropicConfig{
		APIKey:  "ak-test",
		APIBase: url,
		Model:   "test-model",
		Client:  &http.Client{Timeout: 5 * time.Second},
		Logger:  testLogger(),
	})
}

func TestAnthropic_Generate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ak-test" || r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("unexpected headers %v", r.Header)
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"content":[{"type":"text","text":" Your sushi filed a complaint. "}],"stop_reason":"end_turn","usage":{"input_tokens":15,"output_tokens":6}}`)
	}))
	defer srv.Close()

	res, err := newTestAnthropic(srv.URL).Generate(context.Background(), roastRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "Your sushi filed a complaint." || res.Usage.TotalTokens != 21 || res.FinishReason != "end_turn" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.System != "# ChefCritic" || got.MaxTokens != 60 || len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestAnthropic_Generate_ErrorKinds(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrMalformedRequest},
		{http.StatusInternalServerError, domain.ErrUnreachable},
	} {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := newTestAnthropic(srv.URL).Generate(context.Background(), roastRequest())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAnthropic_Generate_NoTextIsMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	_, err := newTestAnthropic(srv.URL).Generate(context.Background(), roastRequest())
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestAnthropic_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		for _, piece := range []string{"Even ", "the rice ", "gave up."} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", piece)
		}
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	out := make(chan domain.StreamEvent, 16)
	if err := newTestAnthropic(srv.URL).GenerateStream(context.Background(), roastRequest(), out); err != nil {
		t.Fatalf("stream: %v", err)
	}
	frags, done := collect(out)
	if len(frags) != 3 || done != "Even the rice gave up." {
		t.Fatalf("unexpected stream %v %q", frags, done)
	}
}

func TestAnthropic_HealthyNeedsKey(t *testing.T) {
	a := NewAnthropic(AnthropicConfig{Logger: testLogger()})
	if err := a.Healthy(context.Background()); !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}
