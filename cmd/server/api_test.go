package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"microgpt-go/pkg/session"
)

const names = "emma\nolivia\nava\nisabella\nsophia\ncharlotte\nmia\namelia\n"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(newServer(ctx, session.New()).routes())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func waitIdle(t *testing.T, ts *httptest.Server) statusResponse {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var st statusResponse
		call(t, ts, http.MethodGet, "/api/status", nil, &st)
		if !st.Training {
			return st
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("training did not finish")
	return statusResponse{}
}

func TestEndpointsBeforeInit(t *testing.T) {
	ts := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/train"},
		{http.MethodPost, "/api/generate"},
		{http.MethodGet, "/api/embeddings"},
		{http.MethodGet, "/api/loss"},
		{http.MethodGet, "/api/config"},
	} {
		if code := call(t, ts, tc.method, tc.path, nil, nil); code != http.StatusConflict {
			t.Errorf("%s %s = %d, want 409", tc.method, tc.path, code)
		}
	}
	if code := call(t, ts, http.MethodGet, "/api/init", nil, nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/init = %d", code)
	}
}

func TestInitValidation(t *testing.T) {
	ts := newTestServer(t)
	if code := call(t, ts, http.MethodPost, "/api/init", map[string]any{"text": "  "}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty text = %d", code)
	}
	body := map[string]any{"text": names, "options": map[string]any{"n_embd": 10, "n_head": 4}}
	if code := call(t, ts, http.MethodPost, "/api/init", body, nil); code != http.StatusBadRequest {
		t.Fatalf("bad options = %d", code)
	}
}

func TestTrainGenerateFlow(t *testing.T) {
	ts := newTestServer(t)

	var info struct {
		NumParams int `json:"num_params"`
		VocabSize int `json:"vocab_size"`
		NumDocs   int `json:"num_docs"`
	}
	body := map[string]any{"text": names, "options": map[string]any{"seed": 3}}
	if code := call(t, ts, http.MethodPost, "/api/init", body, &info); code != http.StatusOK {
		t.Fatalf("init = %d", code)
	}
	if info.NumDocs != 8 || info.NumParams == 0 {
		t.Fatalf("init info = %+v", info)
	}

	if code := call(t, ts, http.MethodPost, "/api/train", map[string]int{"steps": 5, "report_every": 2}, nil); code != http.StatusAccepted {
		t.Fatalf("train = %d", code)
	}
	st := waitIdle(t, ts)
	if st.Error != "" || st.Summary == nil || st.Summary.TotalSteps != 5 {
		t.Fatalf("status = %+v", st)
	}
	if st.Last == nil || st.Last.Step != 5 {
		t.Fatalf("last report = %+v", st.Last)
	}

	var loss struct{ History []float64 }
	call(t, ts, http.MethodGet, "/api/loss", nil, &loss)
	if len(loss.History) != 5 {
		t.Fatalf("history = %v", loss.History)
	}

	var gen struct {
		Samples []struct {
			Text   string `json:"text"`
			Tokens []int  `json:"tokens"`
		} `json:"samples"`
	}
	if code := call(t, ts, http.MethodPost, "/api/generate", map[string]any{"temperature": 0.8, "num_samples": 3}, &gen); code != http.StatusOK {
		t.Fatalf("generate = %d", code)
	}
	if len(gen.Samples) != 3 {
		t.Fatalf("samples = %d", len(gen.Samples))
	}
	if code := call(t, ts, http.MethodPost, "/api/generate", map[string]any{"temperature": -1}, nil); code != http.StatusBadRequest {
		t.Fatalf("negative temperature = %d", code)
	}

	var emb struct {
		Embeddings []struct {
			Char   string    `json:"char"`
			Vector []float64 `json:"embedding"`
		} `json:"embeddings"`
	}
	call(t, ts, http.MethodGet, "/api/embeddings", nil, &emb)
	if len(emb.Embeddings) != info.VocabSize || emb.Embeddings[len(emb.Embeddings)-1].Char != "<BOS>" {
		t.Fatalf("embeddings = %d entries", len(emb.Embeddings))
	}

	var cfg struct {
		Config struct {
			Step int `json:"step"`
			Seed int `json:"seed"`
		} `json:"config"`
		Params []string `json:"params"`
	}
	call(t, ts, http.MethodGet, "/api/config", nil, &cfg)
	if cfg.Config.Step != 5 || cfg.Config.Seed != 3 || len(cfg.Params) != 9 {
		t.Fatalf("config = %+v", cfg)
	}

	var stopped map[string]bool
	call(t, ts, http.MethodPost, "/api/stop", nil, &stopped)
	if stopped["stopped"] {
		t.Fatal("stop reported a running batch while idle")
	}
}

func TestTrainConflictWhileRunning(t *testing.T) {
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/api/init", map[string]any{"text": names}, nil)
	if code := call(t, ts, http.MethodPost, "/api/train", map[string]int{"steps": 100000}, nil); code != http.StatusAccepted {
		t.Fatalf("train = %d", code)
	}
	if code := call(t, ts, http.MethodPost, "/api/train", map[string]int{"steps": 1}, nil); code != http.StatusConflict {
		t.Fatalf("second train = %d, want 409", code)
	}
	// The batch may not have reached its loop yet, so retry the stop.
	deadline := time.Now().Add(10 * time.Second)
	for {
		var stopped map[string]bool
		call(t, ts, http.MethodPost, "/api/stop", nil, &stopped)
		if stopped["stopped"] || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := waitIdle(t, ts)
	if st.Summary == nil || !st.Summary.Stopped {
		t.Fatalf("status after stop = %+v", st)
	}
}

func TestChatCompletions(t *testing.T) {
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/api/init", map[string]any{"text": names}, nil)

	var resp ChatCompletionResponse
	req := ChatCompletionRequest{Messages: []ChatMessage{{Role: "user", Content: "emma"}}, MaxTokens: 4}
	if code := call(t, ts, http.MethodPost, "/v1/chat/completions", req, &resp); code != http.StatusOK {
		t.Fatalf("chat = %d", code)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Role != "assistant" {
		t.Fatalf("choices = %+v", resp.Choices)
	}
	if resp.Usage.CompletionTokens > 4 {
		t.Fatalf("completion tokens = %d", resp.Usage.CompletionTokens)
	}
}

func TestTrimStop(t *testing.T) {
	got, ok := trimStop("hello there | User: more")
	if !ok || got != "hello there" {
		t.Fatalf("trimStop = %q %v", got, ok)
	}
	if got, ok := trimStop("plain"); ok || got != "plain" {
		t.Fatalf("trimStop without stop = %q %v", got, ok)
	}
	if p := chatPrompt([]ChatMessage{{Role: "user", Content: "hi\n there"}}); !strings.HasSuffix(p, "User: hi there | Assistant: ") {
		t.Fatalf("prompt = %q", p)
	}
}

func TestDivergedRunStillReports(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"text": names, "options": map[string]any{"learning_rate": 1e308}}
	if code := call(t, ts, http.MethodPost, "/api/init", body, nil); code != http.StatusOK {
		t.Fatalf("init = %d", code)
	}
	if code := call(t, ts, http.MethodPost, "/api/train", map[string]int{"steps": 5}, nil); code != http.StatusAccepted {
		t.Fatalf("train = %d", code)
	}
	waitIdle(t, ts)

	var st struct {
		Last struct {
			Step int      `json:"step"`
			Loss *float64 `json:"loss"`
		} `json:"last"`
	}
	if code := call(t, ts, http.MethodGet, "/api/status", nil, &st); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if st.Last.Step != 5 || st.Last.Loss != nil {
		t.Fatalf("last step %d loss %v, want step 5 with a null loss", st.Last.Step, st.Last.Loss)
	}

	var loss struct {
		History []*float64 `json:"history"`
	}
	if code := call(t, ts, http.MethodGet, "/api/loss", nil, &loss); code != http.StatusOK {
		t.Fatalf("loss = %d", code)
	}
	if len(loss.History) != 5 || loss.History[0] == nil || loss.History[4] != nil {
		t.Fatalf("history = %v", loss.History)
	}

	var emb struct {
		Embeddings []struct {
			Vector []*float64 `json:"embedding"`
		} `json:"embeddings"`
	}
	if code := call(t, ts, http.MethodGet, "/api/embeddings", nil, &emb); code != http.StatusOK {
		t.Fatalf("embeddings = %d", code)
	}
	if len(emb.Embeddings) == 0 {
		t.Fatal("no embeddings")
	}
}
