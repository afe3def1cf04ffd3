package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"microgpt-go/pkg/config"
	"microgpt-go/pkg/dataset"
	"microgpt-go/pkg/model"
	"microgpt-go/pkg/session"
)

const (
	tabTrain = iota
	tabAttention
	tabSamples
	tabEmbeddings
)

const maxLogLines = 500

type styles struct {
	title      lipgloss.Style
	tab        lipgloss.Style
	tabActive  lipgloss.Style
	panel      lipgloss.Style
	panelTitle lipgloss.Style
	selected   lipgloss.Style
	dim        lipgloss.Style
	ok         lipgloss.Style
	warn       lipgloss.Style
	graphLoss  lipgloss.Style
	graphLR    lipgloss.Style
	heat       lipgloss.Style
	vowel      lipgloss.Style
	consonant  lipgloss.Style
	special    lipgloss.Style
	splash     lipgloss.Style
	splashText lipgloss.Style
}

func defaultStyles() styles {
	brand := lipgloss.AdaptiveColor{Light: "26", Dark: "81"}
	subtle := lipgloss.AdaptiveColor{Light: "245", Dark: "244"}
	border := lipgloss.AdaptiveColor{Light: "250", Dark: "238"}
	return styles{
		title:      lipgloss.NewStyle().Bold(true).Foreground(brand),
		tab:        lipgloss.NewStyle().Padding(0, 1).Foreground(subtle),
		tabActive:  lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("15")).Background(brand),
		panel:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(0, 1),
		panelTitle: lipgloss.NewStyle().Bold(true).Foreground(brand),
		selected:   lipgloss.NewStyle().Bold(true).Foreground(brand),
		dim:        lipgloss.NewStyle().Foreground(subtle),
		ok:         lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		warn:       lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		graphLoss:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		graphLR:    lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
		heat:       lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		vowel:      lipgloss.NewStyle().Foreground(lipgloss.Color("80")).Bold(true),
		consonant:  lipgloss.NewStyle().Foreground(lipgloss.Color("147")),
		special:    lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		splash:     lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(brand).Padding(1, 3),
		splashText: lipgloss.NewStyle().Bold(true).Foreground(brand),
	}
}

type keyMap struct {
	Start    key.Binding
	Continue key.Binding
	Stop     key.Binding
	Generate key.Binding
	Quit     key.Binding
	TabNext  key.Binding
	TabPrev  key.Binding
	Up       key.Binding
	Down     key.Binding
	Edit     key.Binding
	Apply    key.Binding
	Cancel   key.Binding
	Preset1  key.Binding
	Preset2  key.Binding
	Preset3  key.Binding
	Refresh  key.Binding
	Clear    key.Binding
	TempUp   key.Binding
	TempDown key.Binding
	Help     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Generate, k.TabNext, k.Edit, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Start, k.Continue, k.Stop, k.Generate, k.Quit},
		{k.TabNext, k.TabPrev, k.Up, k.Down},
		{k.Edit, k.Apply, k.Cancel, k.Refresh, k.Clear},
		{k.Preset1, k.Preset2, k.Preset3},
		{k.TempDown, k.TempUp, k.Help},
	}
}

func defaultKeys() keyMap {
	return keyMap{
		Start:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "init + train")),
		Continue: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next batch")),
		Stop:     key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		Generate: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "generate")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		TabNext:  key.NewBinding(key.WithKeys("tab", "l"), key.WithHelp("tab/l", "next tab")),
		TabPrev:  key.NewBinding(key.WithKeys("shift+tab", "h"), key.WithHelp("shift+tab/h", "prev tab")),
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("up/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("down/j", "down")),
		Edit:     key.NewBinding(key.WithKeys("e", "enter"), key.WithHelp("e/enter", "edit")),
		Apply:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
		Cancel:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel edit")),
		Preset1:  key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "preset tiny")),
		Preset2:  key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "preset names")),
		Preset3:  key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "preset wide")),
		Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh embeddings")),
		Clear:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear samples")),
		TempDown: key.NewBinding(key.WithKeys("["), key.WithHelp("[", "temp -0.05")),
		TempUp:   key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "temp +0.05")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
	}
}

type initMsg struct{ info model.InitInfo }
type reportMsg session.Report
type doneMsg struct {
	sum session.Summary
	err error
}
type samplesMsg struct {
	samples []model.Sample
	err     error
}
type embeddingsMsg struct {
	emb []model.Embedding
	err error
}
type animTickMsg struct{ ts time.Time }

type app struct {
	width   int
	height  int
	styles  styles
	keys    keyMap
	help    help.Model
	spin    spinner.Model
	tabs    []string
	tabIdx  int
	presets []preset

	fields   []cfgField
	fieldIdx int
	editing  bool
	editor   textinput.Model

	sess      *session.Session
	events    chan tea.Msg
	cancel    context.CancelFunc
	running   bool
	ready     bool
	dirty     bool
	status    string
	lastError string
	logs      []string

	info       model.InitInfo
	last       session.Report
	hasLast    bool
	batchStart time.Time
	batchFirst int
	batchEnd   int
	stepsPer   float64

	lossSeries     []float64
	lrSeries       []float64
	lossAnimSeries []float64
	lossAnim       float64
	lossVel        float64
	animPrimed     bool
	graphSpring    harmonica.Spring

	temperature float64
	generating  bool
	samples     []model.Sample
	sampleView  viewport.Model
	embeddings  []model.Embedding

	splashActive      bool
	splashStarted     time.Time
	splashMinDuration time.Duration
	splashProgress    float64
	splashProgressVel float64
	splashSpring      harmonica.Spring
}

func newApp(sess *session.Session) app {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))

	ed := textinput.New()
	ed.CharLimit = 512
	ed.Width = 36

	run := config.RunFromEnv()
	vp := viewport.New(80, 16)
	vp.SetContent("press g to generate samples")

	return app{
		styles:            defaultStyles(),
		keys:              defaultKeys(),
		help:              help.New(),
		spin:              sp,
		tabs:              []string{"Train", "Attention", "Samples", "Embeddings"},
		presets:           defaultPresets(),
		fields:            defaultFields(config.FromEnv(), run),
		editor:            ed,
		sess:              sess,
		events:            make(chan tea.Msg, 64),
		status:            "idle",
		temperature:       run.Temperature,
		sampleView:        vp,
		graphSpring:       harmonica.NewSpring(harmonica.FPS(30), 6.0, 1.0),
		splashActive:      true,
		splashStarted:     time.Now(),
		splashMinDuration: 1200 * time.Millisecond,
		splashSpring:      harmonica.NewSpring(harmonica.FPS(30), 8.0, 0.72),
	}
}

func (m app) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitEventCmd(m.events), animTickCmd())
}

func waitEventCmd(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func animTickCmd() tea.Cmd {
	return tea.Tick(time.Second/30, func(ts time.Time) tea.Msg { return animTickMsg{ts: ts} })
}

func generateCmd(sess *session.Session, temperature float64, n int) tea.Cmd {
	return func() tea.Msg {
		s, err := sess.Generate(temperature, n)
		return samplesMsg{samples: s, err: err}
	}
}

func embeddingsCmd(sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		e, err := sess.Embeddings()
		return embeddingsMsg{emb: e, err: err}
	}
}

// runBatch loads the dataset when fresh is set, then trains one batch.
// Every outcome ends with exactly one doneMsg on ch.
func runBatch(ctx context.Context, sess *session.Session, ch chan<- tea.Msg, rc runConfig, fresh bool) {
	if fresh {
		if !dataset.IsJSONL(rc.dataset) {
			if _, err := dataset.Ensure(ctx, nil, dataset.NamesURL, rc.dataset); err != nil {
				ch <- doneMsg{err: err}
				return
			}
		}
		text, err := dataset.LoadFile(rc.dataset)
		if err != nil {
			ch <- doneMsg{err: err}
			return
		}
		info, err := sess.Init(text, rc.opts)
		if err != nil {
			ch <- doneMsg{err: err}
			return
		}
		ch <- initMsg{info: info}
	}
	sum, err := sess.Train(ctx, rc.opts.NumSteps, rc.reportEvery, func(r session.Report) {
		select {
		case ch <- reportMsg(r):
		case <-ctx.Done():
		}
	})
	ch <- doneMsg{sum: sum, err: err}
}

func (m *app) appendLog(line string) {
	m.logs = append(m.logs, time.Now().Format("15:04:05")+" "+line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

func (m *app) fieldByKey(k string) *cfgField {
	for i := range m.fields {
		if m.fields[i].Key == k {
			return &m.fields[i]
		}
	}
	return nil
}

func (m *app) setField(k, v string) {
	f := m.fieldByKey(k)
	if f == nil || f.Value == v {
		return
	}
	f.Value = v
	if modelKeys[k] {
		m.dirty = true
	}
}

func (m *app) applyPreset(idx int) {
	if idx < 0 || idx >= len(m.presets) || m.running {
		return
	}
	for k, v := range m.presets[idx].values {
		m.setField(k, v)
	}
	m.appendLog("preset loaded: " + m.presets[idx].name)
}

func (m *app) startEdit() tea.Cmd {
	if m.running {
		return nil
	}
	f := m.fields[m.fieldIdx]
	m.editing = true
	m.editor.SetValue(f.Value)
	m.editor.Placeholder = f.Label
	return m.editor.Focus()
}

func (m *app) applyEdit() {
	m.setField(m.fields[m.fieldIdx].Key, strings.TrimSpace(m.editor.Value()))
	m.editing = false
	m.editor.Blur()
}

// startTraining begins a batch. A fresh start (or any change to a field
// baked into the model) re-initializes the model first.
func (m *app) startTraining(fresh bool) {
	if m.running {
		return
	}
	rc, err := parseFields(m.fields)
	if err != nil {
		m.lastError = err.Error()
		m.status = "invalid config"
		return
	}
	if !m.ready || m.dirty {
		fresh = true
	}
	if fresh {
		m.lossSeries, m.lrSeries, m.lossAnimSeries = nil, nil, nil
		m.animPrimed = false
		m.hasLast = false
		m.samples = nil
		m.embeddings = nil
		m.batchFirst = 0
		m.status = "loading"
	} else {
		m.batchFirst = m.last.Step
		m.status = "training"
	}
	m.batchEnd = m.batchFirst + rc.opts.NumSteps
	if fresh {
		m.temperature = rc.temperature
	}
	m.lastError = ""
	m.running = true
	m.batchStart = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go runBatch(ctx, m.sess, m.events, rc, fresh)
	if fresh {
		m.appendLog("loading " + rc.dataset)
	} else {
		m.appendLog(fmt.Sprintf("next batch: %d steps", rc.opts.NumSteps))
	}
}

func (m *app) stopTraining() {
	if m.cancel != nil {
		m.cancel()
		m.status = "stopping"
	}
}

func (m *app) animate() {
	if len(m.lossSeries) == 0 {
		return
	}
	target := m.lossSeries[len(m.lossSeries)-1]
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return
	}
	if !m.animPrimed {
		m.lossAnim, m.lossVel = target, 0
		m.animPrimed = true
	}
	m.lossAnim, m.lossVel = m.graphSpring.Update(m.lossAnim, m.lossVel, target)
	m.lossAnimSeries = appendSeries(m.lossAnimSeries, m.lossAnim, seriesCap)
}

func (m *app) setSamples(samples []model.Sample) {
	m.samples = samples
	lines := make([]string, 0, len(samples)+2)
	lines = append(lines, m.styles.dim.Render(fmt.Sprintf("temperature %.2f, step %d", m.temperature, m.last.Step)), "")
	for i, s := range samples {
		text := s.Text
		if text == "" {
			text = m.styles.dim.Render("(empty)")
		}
		lines = append(lines, fmt.Sprintf("%2d. %s", i+1, text))
	}
	m.sampleView.SetContent(strings.Join(lines, "\n"))
	m.sampleView.GotoTop()
}

func (m app) sampleCount() int {
	if rc, err := parseFields(m.fields); err == nil {
		return rc.samples
	}
	return session.DefaultNumSamples
}

func (m app) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	m.spin, cmd = m.spin.Update(msg)
	cmds = append(cmds, cmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.editor.Width = max(24, min(64, m.width/2))
		m.sampleView.Width = max(30, m.width-8)
		m.sampleView.Height = max(6, m.height-12)
		m.help.Width = m.width

	case tea.KeyMsg:
		s := msg.String()
		if s == "ctrl+c" {
			m.stopTraining()
			return m, tea.Quit
		}
		if m.splashActive {
			if s == "enter" || s == " " || s == "esc" {
				m.splashActive = false
			}
			break
		}
		if m.editing {
			switch s {
			case "enter":
				m.applyEdit()
			case "esc":
				m.editing = false
				m.editor.Blur()
			default:
				m.editor, cmd = m.editor.Update(msg)
				cmds = append(cmds, cmd)
			}
			break
		}
		switch s {
		case "q":
			m.stopTraining()
			return m, tea.Quit
		case "tab", "l":
			m.tabIdx = (m.tabIdx + 1) % len(m.tabs)
			if m.tabIdx == tabEmbeddings && m.ready {
				cmds = append(cmds, embeddingsCmd(m.sess))
			}
		case "shift+tab", "h":
			m.tabIdx = (m.tabIdx - 1 + len(m.tabs)) % len(m.tabs)
			if m.tabIdx == tabEmbeddings && m.ready {
				cmds = append(cmds, embeddingsCmd(m.sess))
			}
		case "j", "down":
			if m.tabIdx == tabTrain {
				m.fieldIdx = min(len(m.fields)-1, m.fieldIdx+1)
			}
		case "k", "up":
			if m.tabIdx == tabTrain {
				m.fieldIdx = max(0, m.fieldIdx-1)
			}
		case "e", "enter":
			if m.tabIdx == tabTrain {
				cmds = append(cmds, m.startEdit())
			}
		case "1", "2", "3":
			m.applyPreset(int(s[0] - '1'))
		case "s":
			m.startTraining(true)
		case "n":
			m.startTraining(false)
		case "x":
			m.stopTraining()
		case "g":
			if !m.ready {
				m.lastError = "initialize a model first (s)"
				break
			}
			if !m.generating {
				m.generating = true
				cmds = append(cmds, generateCmd(m.sess, m.temperature, m.sampleCount()))
			}
		case "[":
			m.temperature = math.Max(0.05, m.temperature-0.05)
		case "]":
			m.temperature = math.Min(2.0, m.temperature+0.05)
		case "c":
			m.samples = nil
			m.sampleView.SetContent("")
		case "r":
			if m.ready {
				cmds = append(cmds, embeddingsCmd(m.sess))
			}
		case "?":
			m.help.ShowAll = !m.help.ShowAll
		}

	case initMsg:
		m.info = msg.info
		m.ready = true
		m.dirty = false
		m.status = "training"
		m.appendLog(fmt.Sprintf("model ready: params=%d vocab=%d docs=%d", msg.info.NumParams, msg.info.VocabSize, msg.info.NumDocs))
		cmds = append(cmds, waitEventCmd(m.events))

	case reportMsg:
		r := session.Report(msg)
		m.last, m.hasLast = r, true
		m.lossSeries = appendSeries(m.lossSeries, r.Loss, seriesCap)
		m.lrSeries = appendSeries(m.lrSeries, r.LearningRate, seriesCap)
		if el := time.Since(m.batchStart).Seconds(); el > 0 {
			m.stepsPer = float64(r.Step-m.batchFirst) / el
		}
		if m.tabIdx == tabEmbeddings {
			cmds = append(cmds, embeddingsCmd(m.sess))
		}
		cmds = append(cmds, waitEventCmd(m.events))

	case doneMsg:
		m.running = false
		m.cancel = nil
		switch {
		case msg.err != nil:
			m.status = "error"
			m.lastError = msg.err.Error()
			m.appendLog("error: " + msg.err.Error())
		case msg.sum.Stopped:
			m.status = "stopped"
			m.appendLog(fmt.Sprintf("stopped after %d steps (total %d)", msg.sum.Steps, msg.sum.TotalSteps))
		default:
			m.status = "completed"
			m.appendLog(fmt.Sprintf("batch done: %d steps (total %d)", msg.sum.Steps, msg.sum.TotalSteps))
		}
		if m.ready {
			cmds = append(cmds, embeddingsCmd(m.sess))
		}
		cmds = append(cmds, waitEventCmd(m.events))

	case samplesMsg:
		m.generating = false
		if msg.err != nil {
			m.lastError = msg.err.Error()
			break
		}
		m.setSamples(msg.samples)
		m.appendLog(fmt.Sprintf("generated %d samples at temperature %.2f", len(msg.samples), m.temperature))

	case embeddingsMsg:
		if msg.err == nil {
			m.embeddings = msg.emb
		}

	case animTickMsg:
		m.animate()
		if m.splashActive {
			m.splashProgress, m.splashProgressVel = m.splashSpring.Update(m.splashProgress, m.splashProgressVel, 1.0)
			if time.Since(m.splashStarted) >= m.splashMinDuration && m.splashProgress >= 0.995 {
				m.splashActive = false
			}
		}
		cmds = append(cmds, animTickCmd())
	}

	if m.tabIdx == tabSamples {
		m.sampleView, cmd = m.sampleView.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}
