package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"microgpt-go/pkg/model"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
}

type ChatChoice struct {
	Message      ChatMessage `json:"message"`
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
}

type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Turns are joined the way chat records are flattened for training.
const turnSep = " | "

var stopSeqs = []string{turnSep + "User:", turnSep + "Assistant:"}

func chatPrompt(msgs []ChatMessage) string {
	var b strings.Builder
	for _, msg := range msgs {
		role := "User"
		if msg.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s%s", role, strings.Join(strings.Fields(msg.Content), " "), turnSep)
	}
	b.WriteString("Assistant: ")
	return b.String()
}

// trimStop cuts text at the first stop sequence and reports whether one
// was found.
func trimStop(text string) (string, bool) {
	cut := -1
	for _, stop := range stopSeqs {
		if idx := strings.Index(text, strings.TrimSpace(stop)); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut < 0 {
		return text, false
	}
	return strings.TrimSuffix(strings.TrimSpace(text[:cut]), strings.TrimSpace(turnSep)), true
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Temperature <= 0 {
		req.Temperature = model.DefaultTemperature
	}
	if req.TopP <= 0 {
		req.TopP = 0.9
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 128
	}

	prompt := chatPrompt(req.Messages)
	sample, err := s.sess.Complete(prompt, model.SampleOptions{Temperature: req.Temperature, TopP: req.TopP}, req.MaxTokens)
	if err != nil {
		writeError(w, err)
		return
	}
	text, stopped := trimStop(sample.Text)
	finish := "length"
	if stopped || len(sample.Tokens) < req.MaxTokens {
		finish = "stop"
	}

	now := time.Now()
	resp := ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%d", now.UnixNano()),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   "microgpt",
		Choices: []ChatChoice{{
			Message:      ChatMessage{Role: "assistant", Content: strings.TrimSpace(text)},
			FinishReason: finish,
		}},
	}
	resp.Usage.PromptTokens = len([]rune(prompt))
	resp.Usage.CompletionTokens = len(sample.Tokens)
	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	writeJSON(w, http.StatusOK, resp)
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}{
		Object: "list",
		Data:   []modelEntry{{ID: "microgpt", Object: "model", Created: time.Now().Unix(), OwnedBy: "microgpt"}},
	})
}
