package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

var (
	// ErrNotInitialized is returned by TrainStep and Generate before both
	// LoadData and InitParams have run.
	ErrNotInitialized = errors.New("model not initialized: call LoadData and InitParams first")
	// ErrNoData is returned by InitParams when no documents are loaded.
	ErrNoData             = errors.New("no training documents loaded")
	ErrInvalidTemperature = errors.New("temperature must be > 0")
	ErrInvalidOptions     = errors.New("invalid model options")
)

// DefaultTemperature is the sampling temperature used when callers have no
// preference.
const DefaultTemperature = 0.5

const (
	completionTopK          = 40
	completionRepeatPenalty = 1.1
	completionRecentWindow  = 64
)

// Options configures a Model.
type Options struct {
	Seed         int64   `json:"seed"`
	NEmbd        int     `json:"n_embd"`
	NHead        int     `json:"n_head"`
	NLayer       int     `json:"n_layer"`
	BlockSize    int     `json:"block_size"`
	LearningRate float64 `json:"learning_rate"`
	NumSteps     int     `json:"num_steps"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	EpsAdam      float64 `json:"eps_adam"`
}

func DefaultOptions() Options {
	return Options{
		Seed:         42,
		NEmbd:        16,
		NHead:        4,
		NLayer:       1,
		BlockSize:    16,
		LearningRate: 0.01,
		NumSteps:     1000,
		Beta1:        0.85,
		Beta2:        0.99,
		EpsAdam:      1e-8,
	}
}

func (o Options) Validate() error {
	if o.NLayer < 1 || o.NEmbd < 1 || o.NHead < 1 || o.BlockSize < 1 {
		return fmt.Errorf("%w: need n_layer>=1, n_embd>=1, n_head>=1, block_size>=1", ErrInvalidOptions)
	}
	if o.NEmbd%o.NHead != 0 {
		return fmt.Errorf("%w: n_embd (%d) must be divisible by n_head (%d)", ErrInvalidOptions, o.NEmbd, o.NHead)
	}
	if o.NumSteps < 1 {
		return fmt.Errorf("%w: num_steps must be >= 1", ErrInvalidOptions)
	}
	if o.LearningRate < 0 || math.IsNaN(o.LearningRate) {
		return fmt.Errorf("%w: learning_rate must be >= 0", ErrInvalidOptions)
	}
	if o.Beta1 < 0 || o.Beta1 >= 1 || o.Beta2 < 0 || o.Beta2 >= 1 {
		return fmt.Errorf("%w: beta1 and beta2 must be in [0,1)", ErrInvalidOptions)
	}
	if o.EpsAdam <= 0 {
		return fmt.Errorf("%w: eps_adam must be > 0", ErrInvalidOptions)
	}
	return nil
}

func (o Options) Config() Config {
	return Config{NEmbd: o.NEmbd, NHead: o.NHead, NLayer: o.NLayer, BlockSize: o.BlockSize}
}

// InitInfo is returned by InitParams.
type InitInfo struct {
	NumParams int `json:"num_params"`
	VocabSize int `json:"vocab_size"`
	NumDocs   int `json:"num_docs"`
}

// StepResult describes one optimizer step.
type StepResult struct {
	Step         int           `json:"step"`
	Loss         float64       `json:"loss"`
	Doc          string        `json:"doc"`
	Tokens       []int         `json:"tokens"`
	LearningRate float64       `json:"learning_rate"`
	ParamStats   ParamStats    `json:"param_stats"`
	Viz          []Activations `json:"viz"`
}

// Finite reports whether the loss is a usable number.
func (r StepResult) Finite() bool {
	return !math.IsNaN(r.Loss) && !math.IsInf(r.Loss, 0)
}

// SampleViz is the per-position data of a generation, including the
// distribution the token was drawn from.
type SampleViz struct {
	Activations
	Probs []float64 `json:"probs"`
}

// Sample is one generated string.
type Sample struct {
	Text   string      `json:"text"`
	Tokens []int       `json:"tokens"`
	Viz    []SampleViz `json:"viz"`
}

// Embedding is one row of the token embedding table.
type Embedding struct {
	TokenID int       `json:"token_id"`
	Char    string    `json:"char"`
	Vector  []float64 `json:"embedding"`
}

// ConfigInfo is the configuration plus data-derived sizes.
type ConfigInfo struct {
	Config
	HeadDim      int     `json:"head_dim"`
	Seed         int64   `json:"seed"`
	LearningRate float64 `json:"learning_rate"`
	NumSteps     int     `json:"num_steps"`
	VocabSize    int     `json:"vocab_size"`
	NumDocs      int     `json:"num_docs"`
	Step         int     `json:"step"`
}

// Model owns the parameters, optimizer state and vocabulary of one GPT.
// It is not safe for concurrent use.
type Model struct {
	opts Options
	cfg  Config
	rng  *Random

	docs  []string
	vocab *Vocab

	tape    *Tape
	params  *Params
	flat    []Value
	nParams int
	m1, m2  []float64 // Adam first and second moments

	step        int
	lossHistory []float64
	ready       bool
}

func New(opts Options) (*Model, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		opts: opts,
		cfg:  opts.Config(),
		rng:  NewRandom(opts.Seed),
	}, nil
}

// isTrimSpace reports the runes trimmed from each document line: space
// separators, tab, VT, FF, CR, LF, U+2028, U+2029 and the byte order mark.
// Unlike unicode.IsSpace it trims U+FEFF and keeps U+0085.
func isTrimSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', '\uFEFF', '\u2028', '\u2029':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

// LoadData splits text into one document per non-empty trimmed line,
// shuffles them and builds the vocabulary. Parameters must be
// re-initialized afterwards.
func (m *Model) LoadData(text string) {
	var docs []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimFunc(line, isTrimSpace); line != "" {
			docs = append(docs, line)
		}
	}
	m.rng.ShuffleStrings(docs)
	m.docs = docs
	m.vocab = BuildVocab(docs)
	m.ready = false
}

// InitParams draws fresh parameters and resets the optimizer, the step
// counter and the loss history.
func (m *Model) InitParams() (InitInfo, error) {
	if m.vocab == nil || len(m.docs) == 0 {
		return InitInfo{}, ErrNoData
	}
	m.tape = NewTape()
	m.params = NewParams(m.tape, m.rng, m.cfg, m.vocab.Size())
	m.flat = m.params.Flatten()
	m.nParams = m.tape.Len()
	m.m1 = make([]float64, len(m.flat))
	m.m2 = make([]float64, len(m.flat))
	m.step = 0
	m.lossHistory = nil
	m.ready = true
	return InitInfo{
		NumParams: len(m.flat),
		VocabSize: m.vocab.Size(),
		NumDocs:   len(m.docs),
	}, nil
}

// learningRate decays linearly to zero over NumSteps and stays there.
func (m *Model) learningRate() float64 {
	return math.Max(0, m.opts.LearningRate*(1-float64(m.step)/float64(m.opts.NumSteps)))
}

// TrainStep runs forward, backward and one Adam update on the next
// document in round-robin order.
func (m *Model) TrainStep() (StepResult, error) {
	if !m.ready {
		return StepResult{}, ErrNotInitialized
	}
	t := m.tape
	defer t.Truncate(m.nParams)

	doc := m.docs[m.step%len(m.docs)]
	tokens := m.vocab.Encode(doc)
	n := min(m.cfg.BlockSize, len(tokens)-1)

	cache := NewKVCache(m.cfg.NLayer)
	losses := make([]Value, 0, n)
	viz := make([]Activations, 0, n)
	for pos := 0; pos < n; pos++ {
		logits, act := Forward(t, m.params, m.cfg, tokens[pos], pos, cache)
		probs := Softmax(t, logits)
		losses = append(losses, t.Neg(t.Log(probs[tokens[pos+1]])))
		viz = append(viz, act)
	}
	loss := t.MulScalar(t.Sum(losses), 1/float64(n))
	t.Backward(loss)

	lr := m.learningRate()
	b1, b2 := m.opts.Beta1, m.opts.Beta2
	bc1 := 1 - math.Pow(b1, float64(m.step+1))
	bc2 := 1 - math.Pow(b2, float64(m.step+1))
	for i, p := range m.flat {
		g := t.Grad(p)
		m.m1[i] = b1*m.m1[i] + (1-b1)*g
		m.m2[i] = b2*m.m2[i] + (1-b2)*g*g
		mHat := m.m1[i] / bc1
		vHat := m.m2[i] / bc2
		t.SetData(p, t.Data(p)-lr*mHat/(math.Sqrt(vHat)+m.opts.EpsAdam))
		t.ZeroGrad(p)
	}

	m.step++
	lossValue := t.Data(loss)
	m.lossHistory = append(m.lossHistory, lossValue)

	return StepResult{
		Step:         m.step,
		Loss:         lossValue,
		Doc:          doc,
		Tokens:       tokens,
		LearningRate: lr,
		ParamStats:   paramStats(t, m.flat),
		Viz:          viz,
	}, nil
}

// Generate samples one document starting from BOS.
func (m *Model) Generate(temperature float64) (Sample, error) {
	return m.GenerateWith(SampleOptions{Temperature: temperature})
}

// GenerateWith samples one document with optional top-k/top-p filtering.
// Generation stops at BOS or after BlockSize positions.
func (m *Model) GenerateWith(o SampleOptions) (Sample, error) {
	if !m.ready {
		return Sample{}, ErrNotInitialized
	}
	if !(o.Temperature > 0) {
		return Sample{}, ErrInvalidTemperature
	}
	t := m.tape
	defer t.Truncate(m.nParams)

	cache := NewKVCache(m.cfg.NLayer)
	tokenID := m.vocab.BOS
	var tokens []int
	var viz []SampleViz
	scaled := make([]Value, m.vocab.Size())
	for pos := 0; pos < m.cfg.BlockSize; pos++ {
		logits, act := Forward(t, m.params, m.cfg, tokenID, pos, cache)
		for i, l := range logits {
			scaled[i] = t.DivScalar(l, o.Temperature)
		}
		weights := t.Datas(Softmax(t, scaled))
		probs := weights
		if o.TopK > 0 || (o.TopP > 0 && o.TopP < 1) {
			if o.TopK > 0 {
				weights = ApplyTopK(weights, o.TopK)
			}
			if o.TopP > 0 && o.TopP < 1 {
				weights = ApplyTopP(weights, o.TopP)
			}
			probs = Normalize(weights)
		}
		tokenID = m.rng.WeightedChoice(weights)
		viz = append(viz, SampleViz{Activations: act, Probs: probs})
		if tokenID == m.vocab.BOS {
			break
		}
		tokens = append(tokens, tokenID)
	}
	return Sample{Text: m.vocab.Decode(tokens), Tokens: tokens, Viz: viz}, nil
}

// Complete feeds prompt through the model and samples a continuation of
// at most maxTokens characters. Only the last BlockSize-1 known runes of
// the prompt are used. Recently emitted tokens are penalized.
func (m *Model) Complete(prompt string, o SampleOptions, maxTokens int) (Sample, error) {
	if !m.ready {
		return Sample{}, ErrNotInitialized
	}
	if !(o.Temperature > 0) {
		return Sample{}, ErrInvalidTemperature
	}
	topK := o.TopK
	if topK == 0 {
		topK = completionTopK
	}
	t := m.tape
	defer t.Truncate(m.nParams)

	ids := m.vocab.EncodeText(prompt)
	if keep := m.cfg.BlockSize - 1; len(ids) > keep {
		ids = ids[len(ids)-keep:]
	}
	cache := NewKVCache(m.cfg.NLayer)
	tokenID := m.vocab.BOS
	pos := 0
	for _, next := range ids {
		Forward(t, m.params, m.cfg, tokenID, pos, cache)
		tokenID = next
		pos++
	}

	var tokens, recent []int
	var viz []SampleViz
	for pos < m.cfg.BlockSize && len(tokens) < maxTokens {
		logits, act := Forward(t, m.params, m.cfg, tokenID, pos, cache)
		recentSet := make(map[int]bool, len(recent))
		for _, id := range recent {
			recentSet[id] = true
		}
		weights := NextTokenWeights(t.Datas(logits), o.Temperature, topK, o.TopP, recentSet, completionRepeatPenalty)
		tokenID = m.rng.WeightedChoice(weights)
		viz = append(viz, SampleViz{Activations: act, Probs: Normalize(weights)})
		if tokenID == m.vocab.BOS {
			break
		}
		tokens = append(tokens, tokenID)
		recent = append(recent, tokenID)
		if len(recent) > completionRecentWindow {
			recent = recent[len(recent)-completionRecentWindow:]
		}
		pos++
	}
	return Sample{Text: m.vocab.Decode(tokens), Tokens: tokens, Viz: viz}, nil
}

// SetNumSteps changes the learning-rate decay horizon.
func (m *Model) SetNumSteps(n int) {
	if n >= 1 {
		m.opts.NumSteps = n
	}
}

func (m *Model) Step() int { return m.step }

func (m *Model) Ready() bool { return m.ready }

func (m *Model) Options() Options { return m.opts }

// Vocab is nil before LoadData.
func (m *Model) Vocab() *Vocab { return m.vocab }

// Docs returns the loaded documents in training order.
func (m *Model) Docs() []string { return append([]string(nil), m.docs...) }

func (m *Model) LossHistory() []float64 {
	return append([]float64(nil), m.lossHistory...)
}

// ParamNames lists the weight matrices with their shapes, e.g.
// "layer0.mlp_fc1 64x16". It is empty before InitParams.
func (m *Model) ParamNames() []string {
	if m.params == nil {
		return nil
	}
	shapes := m.params.Shapes()
	names := m.params.Names()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%s %dx%d", n, shapes[i][0], shapes[i][1])
	}
	return out
}

// Embeddings returns the token embedding row of every vocabulary id,
// BOS included.
func (m *Model) Embeddings() []Embedding {
	if m.params == nil {
		return nil
	}
	out := make([]Embedding, len(m.params.WTE))
	for i, row := range m.params.WTE {
		out[i] = Embedding{TokenID: i, Char: m.vocab.Label(i), Vector: m.tape.Datas(row)}
	}
	return out
}

func (m *Model) Config() ConfigInfo {
	info := ConfigInfo{
		Config:       m.cfg,
		HeadDim:      m.cfg.HeadDim(),
		Seed:         m.opts.Seed,
		LearningRate: m.opts.LearningRate,
		NumSteps:     m.opts.NumSteps,
		NumDocs:      len(m.docs),
		Step:         m.step,
	}
	if m.vocab != nil {
		info.VocabSize = m.vocab.Size()
	}
	return info
}
