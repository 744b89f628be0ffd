package vision_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reimagine/internal/services"
	"reimagine/internal/services/openrouter"
	"reimagine/internal/services/vision"
	"reimagine/internal/stage"
	"reimagine/internal/testsupport"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func delta(text string) string {
	encoded, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": text}}},
	})
	return "data: " + string(encoded)
}

func newClient(opts ...openrouter.Option) *vision.Client {
	return vision.New(openrouter.NewTransport(stage.NameAnalysis, opts...), nil)
}

func config(url string) stage.Config {
	return stage.Config{BaseURL: url, APIKey: "key", Model: "vision-model", Instruction: "Describe it"}
}

func TestAnalyzeStreamsCumulativePartials(t *testing.T) {
	server := sseServer(t,
		": OPENROUTER PROCESSING",
		delta("A red "),
		delta("barn at "),
		delta("dusk. "),
		"data: [DONE]",
	)

	var partials []string
	got, err := newClient().Analyze(context.Background(), testsupport.PNG("barn.png"), config(server.URL), func(text string) {
		partials = append(partials, text)
	})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if got != "A red barn at dusk." {
		t.Fatalf("description = %q", got)
	}
	want := []string{"A red ", "A red barn at ", "A red barn at dusk. "}
	if strings.Join(partials, "|") != strings.Join(want, "|") {
		t.Fatalf("partials = %q, want %q", partials, want)
	}
}

func TestAnalyzeSendsRequest(t *testing.T) {
	var body struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "%s\n\ndata: [DONE]\n\n", delta("ok"))
	}))
	defer server.Close()

	client := newClient(openrouter.WithAttribution("https://example.test", "Reimagine"))
	if _, err := client.Analyze(context.Background(), testsupport.PNG("a.png"), config(server.URL), nil); err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if headers.Get("Authorization") != "Bearer key" {
		t.Fatalf("authorization header = %q", headers.Get("Authorization"))
	}
	if headers.Get("HTTP-Referer") != "https://example.test" || headers.Get("X-Title") != "Reimagine" {
		t.Fatalf("attribution headers missing: %v", headers)
	}
	if body.Model != "vision-model" || !body.Stream {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(body.Messages) != 1 || len(body.Messages[0].Content) != 2 {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}
	parts := body.Messages[0].Content
	if parts[0].Text != "Describe it" {
		t.Fatalf("instruction = %q", parts[0].Text)
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("image url = %q", parts[1].ImageURL.URL)
	}
}

func TestAnalyzeAcceptsNonStreamingResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": " whole answer "}}},
		})
	}))
	defer server.Close()

	var partials []string
	got, err := newClient().Analyze(context.Background(), testsupport.PNG("a.png"), config(server.URL), func(text string) {
		partials = append(partials, text)
	})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if got != "whole answer" || len(partials) != 1 {
		t.Fatalf("got %q partials %q", got, partials)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		cfg     func(string) stage.Config
		want    services.ErrorKind
	}{
		{
			name:    "missing key",
			handler: func(w http.ResponseWriter, r *http.Request) { t.Error("request must not be sent") },
			cfg: func(url string) stage.Config {
				cfg := config(url)
				cfg.APIKey = ""
				return cfg
			},
			want: services.KindMissingCredential,
		},
		{
			name: "http failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			},
			cfg:  config,
			want: services.KindStageRequestFailed,
		},
		{
			name: "stream error payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
			},
			cfg:  config,
			want: services.KindStageRequestFailed,
		},
		{
			name: "garbage chunk",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {not json\n\n")
			},
			cfg:  config,
			want: services.KindMalformedStageResponse,
		},
		{
			name: "empty description",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprintf(w, "%s\n\ndata: [DONE]\n\n", delta("   "))
			},
			cfg:  config,
			want: services.KindMalformedStageResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newClient().Analyze(context.Background(), testsupport.PNG("a.png"), tt.cfg(server.URL), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := services.Kind(err); got != tt.want {
				t.Fatalf("kind = %q, want %q (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestAnalyzeHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient().Analyze(ctx, testsupport.PNG("a.png"), config(server.URL), nil)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if services.Kind(err) != services.KindStageRequestFailed {
		t.Fatalf("timeout must classify as stage_request_failed, got %q", services.Kind(err))
	}
}

func TestHealthCheck(t *testing.T) {
	health := newClient().HealthCheck(context.Background(), stage.Config{BaseURL: "http://x", Model: "m"})
	if health.Ready {
		t.Fatal("expected unhealthy without key")
	}
}

func TestAnalyzeRejectsTruncatedStream(t *testing.T) {
	server := sseServer(t, delta("A red "), delta("ba"))

	var partials []string
	got, err := newClient().Analyze(context.Background(), testsupport.PNG("barn.png"), config(server.URL), func(text string) {
		partials = append(partials, text)
	})
	if err == nil {
		t.Fatalf("expected error for stream without completion, got %q", got)
	}
	if services.Kind(err) != services.KindMalformedStageResponse {
		t.Fatalf("kind = %q, want %q (err=%v)", services.Kind(err), services.KindMalformedStageResponse, err)
	}
	if !strings.Contains(err.Error(), "stream ended before completion") {
		t.Fatalf("unexpected error %v", err)
	}
	if len(partials) != 2 {
		t.Fatalf("partials = %q", partials)
	}
}

func TestAnalyzeAcceptsFinishReasonWithoutDone(t *testing.T) {
	final, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": "barn."}, "finish_reason": "stop"}},
	})
	server := sseServer(t, delta("A red "), "data: "+string(final))

	got, err := newClient().Analyze(context.Background(), testsupport.PNG("barn.png"), config(server.URL), nil)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if got != "A red barn." {
		t.Fatalf("description = %q", got)
	}
}
