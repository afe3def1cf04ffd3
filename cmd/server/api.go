package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"microgpt-go/pkg/config"
	"microgpt-go/pkg/model"
	"microgpt-go/pkg/session"
)

const maxBodyBytes = 8 << 20

type server struct {
	sess *session.Session
	// ctx bounds background training batches; cancelled on shutdown.
	ctx context.Context

	mu       sync.Mutex
	running  bool
	summary  *session.Summary
	trainErr string
}

func newServer(ctx context.Context, sess *session.Session) *server {
	return &server{sess: sess, ctx: ctx}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/api/init", s.handleInit)
	mux.HandleFunc("/api/train", s.handleTrain)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/api/embeddings", s.handleEmbeddings)
	mux.HandleFunc("/api/loss", s.handleLoss)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/v1/chat/completions", s.handleChat)
	mux.HandleFunc("/v1/models", handleModels)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("encode response: %v", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotInitialized), errors.Is(err, session.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInvalidOptions), errors.Is(err, model.ErrNoData),
		errors.Is(err, model.ErrInvalidTemperature):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func onlyGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

type initRequest struct {
	Text    string        `json:"text"`
	Options model.Options `json:"options"`
}

func (s *server) handleInit(w http.ResponseWriter, r *http.Request) {
	req := initRequest{Options: config.FromEnv()}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, model.ErrNoData)
		return
	}
	info, err := s.sess.Init(req.Text, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	s.summary, s.trainErr = nil, ""
	s.mu.Unlock()
	log.Printf("[init] params=%d vocab=%d docs=%d", info.NumParams, info.VocabSize, info.NumDocs)
	writeJSON(w, http.StatusOK, info)
}

type trainRequest struct {
	Steps       int `json:"steps"`
	ReportEvery int `json:"report_every"`
}

// handleTrain starts a batch in the background and returns at once.
func (s *server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := s.sess.Config(); err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeError(w, session.ErrBusy)
		return
	}
	s.running = true
	s.trainErr = ""
	s.mu.Unlock()

	go s.train(req)
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true, "steps": req.Steps})
}

func (s *server) train(req trainRequest) {
	start := time.Now()
	sum, err := s.sess.Train(s.ctx, req.Steps, req.ReportEvery, func(rep session.Report) {
		log.Printf("[step] %d loss=%.4f lr=%.5f", rep.Step, rep.Loss, rep.LearningRate)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		s.trainErr = err.Error()
		log.Printf("[train] error: %v", err)
		return
	}
	s.summary = &sum
	log.Printf("[train] done steps=%d total=%d stopped=%t elapsed=%s", sum.Steps, sum.TotalSteps, sum.Stopped, time.Since(start).Round(time.Millisecond))
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !decode(w, r, &struct{}{}) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.sess.Stop()})
}

type statusResponse struct {
	Training bool             `json:"training"`
	Last     *session.Report  `json:"last,omitempty"`
	Summary  *session.Summary `json:"summary,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	var resp statusResponse
	s.mu.Lock()
	resp.Training = s.running
	resp.Summary = s.summary
	resp.Error = s.trainErr
	s.mu.Unlock()
	if last, ok := s.sess.Last(); ok {
		resp.Last = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

type generateRequest struct {
	Temperature float64 `json:"temperature"`
	NumSamples  int     `json:"num_samples"`
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	samples, err := s.sess.Generate(req.Temperature, req.NumSamples)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	emb, err := s.sess.Embeddings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"embeddings": emb})
}

func (s *server) handleLoss(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	hist, err := s.sess.LossHistory()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": model.FiniteOrNils(hist)})
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	cfg, err := s.sess.Config()
	if err != nil {
		writeError(w, err)
		return
	}
	names, _ := s.sess.ParamNames()
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg, "params": names})
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "MicroGPT API is running.\n\nEndpoints:\n"+
		"- POST /api/init\n- POST /api/train\n- POST /api/stop\n- GET /api/status\n"+
		"- POST /api/generate\n- GET /api/embeddings\n- GET /api/loss\n- GET /api/config\n"+
		"- POST /v1/chat/completions\n- GET /v1/models\n")
}
