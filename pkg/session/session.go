// Package session drives one model for long-running callers such as the
// HTTP server and the terminal dashboard. Training runs in batches that
// can be stopped between steps; reads and generation interleave with a
// running batch at step boundaries.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"microgpt-go/pkg/model"
)

var (
	ErrNotInitialized = errors.New("session: no model, call Init first")
	ErrBusy           = errors.New("session: a training batch is already running")
)

const (
	DefaultBatchSteps = 100
	DefaultNumSamples = 10
)

// Recorder receives everything a session does. runlog.Store implements it.
type Recorder interface {
	StartRun(opts model.Options, info model.InitInfo) (int64, error)
	RecordStep(runID int64, r model.StepResult) error
	RecordSample(runID int64, step int, temperature float64, text string) error
	FinishRun(runID int64, finalLoss float64) error
}

// Report is the light per-step view sent to progress callbacks. Attention
// and Embedding come from the last position of the step's document.
type Report struct {
	Step         int              `json:"step"`
	Loss         float64          `json:"loss"`
	Doc          string           `json:"doc"`
	LearningRate float64          `json:"learning_rate"`
	ParamStats   model.ParamStats `json:"param_stats"`
	Attention    [][][]float64    `json:"attention_weights,omitempty"`
	Embedding    []float64        `json:"embedding,omitempty"`
}

// MarshalJSON writes a non-finite loss or learning rate as null.
func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Step         int              `json:"step"`
		Loss         *float64         `json:"loss"`
		Doc          string           `json:"doc"`
		LearningRate *float64         `json:"learning_rate"`
		ParamStats   model.ParamStats `json:"param_stats"`
		Attention    [][][]*float64   `json:"attention_weights,omitempty"`
		Embedding    []*float64       `json:"embedding,omitempty"`
	}{
		Step:         r.Step,
		Loss:         model.FiniteOrNil(r.Loss),
		Doc:          r.Doc,
		LearningRate: model.FiniteOrNil(r.LearningRate),
		ParamStats:   r.ParamStats,
		Attention:    model.FiniteAttention(r.Attention),
		Embedding:    model.FiniteOrNils(r.Embedding),
	})
}

func newReport(r model.StepResult) Report {
	rep := Report{
		Step:         r.Step,
		Loss:         r.Loss,
		Doc:          r.Doc,
		LearningRate: r.LearningRate,
		ParamStats:   r.ParamStats,
	}
	if n := len(r.Viz); n > 0 {
		rep.Attention = r.Viz[n-1].Attention
		rep.Embedding = r.Viz[n-1].Embedding
	}
	return rep
}

// Summary is returned when a batch ends.
type Summary struct {
	Steps      int  `json:"steps"`
	TotalSteps int  `json:"total_steps"`
	Stopped    bool `json:"stopped"`
}

type Session struct {
	mu    sync.Mutex // guards everything below
	m     *model.Model
	rec   Recorder
	runID int64
	last  *Report

	training atomic.Bool
	cancel   context.CancelFunc
}

func New() *Session { return &Session{} }

// SetRecorder attaches rec to the next Init. Pass nil to detach.
func (s *Session) SetRecorder(rec Recorder) {
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
}

// Init replaces the model with a fresh one trained on text. It fails with
// ErrBusy while a batch runs.
func (s *Session) Init(text string, opts model.Options) (model.InitInfo, error) {
	if s.training.Load() {
		return model.InitInfo{}, ErrBusy
	}
	m, err := model.New(opts)
	if err != nil {
		return model.InitInfo{}, err
	}
	m.LoadData(text)
	info, err := m.InitParams()
	if err != nil {
		return model.InitInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Train sets the flag before it takes the lock, so checking it here
	// keeps a starting batch from losing its model.
	if s.training.Load() {
		return model.InitInfo{}, ErrBusy
	}
	s.m = m
	s.last = nil
	s.runID = 0
	if s.rec != nil {
		id, err := s.rec.StartRun(m.Options(), info)
		if err != nil {
			return info, fmt.Errorf("session: start run: %w", err)
		}
		s.runID = id
	}
	return info, nil
}

// Train runs up to steps optimizer steps. The learning rate decays to zero
// at the end of this batch. fn, when non-nil, is called every reportEvery
// steps and after the last one, outside the session lock. Cancelling ctx
// or calling Stop ends the batch after the current step.
func (s *Session) Train(ctx context.Context, steps, reportEvery int, fn func(Report)) (Summary, error) {
	if steps <= 0 {
		steps = DefaultBatchSteps
	}
	if reportEvery <= 0 {
		reportEvery = 1
	}
	if !s.training.CompareAndSwap(false, true) {
		return Summary{}, ErrBusy
	}
	defer s.training.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.m == nil {
		s.mu.Unlock()
		return Summary{}, ErrNotInitialized
	}
	s.cancel = cancel
	m, runID := s.m, s.runID
	m.SetNumSteps(m.Step() + steps)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	var sum Summary
	for i := 0; i < steps; i++ {
		if ctx.Err() != nil {
			sum.Stopped = true
			break
		}
		rep, err := s.step(m, runID)
		if err != nil {
			return sum, err
		}
		sum.Steps++
		if fn != nil && ((i+1)%reportEvery == 0 || i == steps-1) {
			fn(rep)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sum.TotalSteps = m.Step()
	if s.rec != nil && runID != 0 && s.last != nil {
		if err := s.rec.FinishRun(runID, s.last.Loss); err != nil {
			return sum, fmt.Errorf("session: finish run: %w", err)
		}
	}
	return sum, nil
}

// step trains m, the model the batch started with, once.
func (s *Session) step(m *model.Model, runID int64) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := m.TrainStep()
	if err != nil {
		return Report{}, err
	}
	rep := newReport(res)
	s.last = &rep
	if s.rec != nil && runID != 0 {
		if err := s.rec.RecordStep(runID, res); err != nil {
			return rep, fmt.Errorf("session: record step: %w", err)
		}
	}
	return rep, nil
}

// Stop cancels the running batch. It reports whether one was running.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Session) Training() bool { return s.training.Load() }

// Generate draws numSamples documents. A zero temperature means
// model.DefaultTemperature.
func (s *Session) Generate(temperature float64, numSamples int) ([]model.Sample, error) {
	if temperature == 0 {
		temperature = model.DefaultTemperature
	}
	if numSamples <= 0 {
		numSamples = DefaultNumSamples
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return nil, ErrNotInitialized
	}
	out := make([]model.Sample, 0, numSamples)
	for i := 0; i < numSamples; i++ {
		sample, err := s.m.Generate(temperature)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
		if s.rec != nil && s.runID != 0 {
			if err := s.rec.RecordSample(s.runID, s.m.Step(), temperature, sample.Text); err != nil {
				return out, fmt.Errorf("session: record sample: %w", err)
			}
		}
	}
	return out, nil
}

// Complete continues prompt; see model.Model.Complete.
func (s *Session) Complete(prompt string, o model.SampleOptions, maxTokens int) (model.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return model.Sample{}, ErrNotInitialized
	}
	return s.m.Complete(prompt, o, maxTokens)
}

func (s *Session) Embeddings() ([]model.Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return nil, ErrNotInitialized
	}
	return s.m.Embeddings(), nil
}

func (s *Session) LossHistory() ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return nil, ErrNotInitialized
	}
	return s.m.LossHistory(), nil
}

func (s *Session) Config() (model.ConfigInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return model.ConfigInfo{}, ErrNotInitialized
	}
	return s.m.Config(), nil
}

// ParamNames lists the weight matrices with their shapes.
func (s *Session) ParamNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return nil, ErrNotInitialized
	}
	return s.m.ParamNames(), nil
}

// Last returns the most recent step report, if any.
func (s *Session) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// RunID is the recorder's id for the current model, or 0.
func (s *Session) RunID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}
