package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"microgpt-go/pkg/config"
	"microgpt-go/pkg/model"
	"microgpt-go/pkg/session"
)

func testFields(t *testing.T) []cfgField {
	t.Helper()
	return defaultFields(model.DefaultOptions(), config.Run{Temperature: 0.5, SampleCount: 5})
}

func setValue(fields []cfgField, k, v string) {
	for i := range fields {
		if fields[i].Key == k {
			fields[i].Value = v
		}
	}
}

func TestParseFieldsDefaults(t *testing.T) {
	rc, err := parseFields(testFields(t))
	if err != nil {
		t.Fatalf("parseFields: %v", err)
	}
	if rc.opts != model.DefaultOptions() {
		t.Fatalf("opts = %+v, want defaults", rc.opts)
	}
	if rc.dataset != "input.txt" || rc.reportEvery != 1 || rc.samples != 5 || rc.temperature != 0.5 {
		t.Fatalf("unexpected run config %+v", rc)
	}
}

func TestParseFieldsErrors(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"N_EMBD", "abc", "N_EMBD must be an integer"},
		{"LEARNING_RATE", "fast", "LEARNING_RATE must be a number"},
		{"SEED", "1.5", "SEED must be an integer"},
		{"DATASET_PATH", "  ", "DATASET_PATH cannot be empty"},
		{"TEMPERATURE", "0", "TEMPERATURE must be > 0"},
		{"SAMPLE_COUNT", "0", "SAMPLE_COUNT must be >= 1"},
		{"N_HEAD", "3", "divisible"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			fields := testFields(t)
			setValue(fields, tc.key, tc.value)
			_, err := parseFields(fields)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestChartHelpers(t *testing.T) {
	var s []float64
	for i := 0; i < 10; i++ {
		s = appendSeries(s, float64(i), 4)
	}
	if len(s) != 4 || s[0] != 6 || s[3] != 9 {
		t.Fatalf("appendSeries = %v", s)
	}

	r := resample([]float64{1, math.NaN(), 2, math.Inf(1), 3}, 10)
	if len(r) != 3 {
		t.Fatalf("resample kept %v", r)
	}
	latest, lo, hi, ok := seriesStats([]float64{3, 1, math.NaN(), 2})
	if !ok || latest != 2 || lo != 1 || hi != 3 {
		t.Fatalf("seriesStats = %v %v %v %v", latest, lo, hi, ok)
	}
	if _, _, _, ok := seriesStats(nil); ok {
		t.Fatal("seriesStats on empty series reported ok")
	}

	if got := lineChart([]float64{1, 2, 3}, 12, 5); len(got) == 0 {
		t.Fatal("lineChart returned no rows")
	}
	if got := []rune(sparkline([]float64{1, 2, 3, 4}, 8)); len(got) != 8 {
		t.Fatalf("sparkline width = %d", len(got))
	}
	if got := heatRow([]float64{0, 1}); got != "  ██" {
		t.Fatalf("heatRow = %q", got)
	}
	if shade(-1) != ' ' || shade(2) != '█' {
		t.Fatal("shade does not clamp")
	}
}

func TestScatter(t *testing.T) {
	pts := []scatterPoint{{X: 1, Y: 1, Label: "a"}, {X: -1, Y: -1, Label: "b"}}
	grid, cells := scatter(pts, 11, 5)
	if len(grid) != 5 || len(grid[0]) != 11 {
		t.Fatalf("grid is %dx%d", len(grid), len(grid[0]))
	}
	if cells[0] != [2]int{0, 10} || cells[1] != [2]int{4, 0} {
		t.Fatalf("cells = %v", cells)
	}
	if grid[0][10] != 'a' || grid[4][0] != 'b' {
		t.Fatal("labels not placed")
	}
}

func TestTextHelpers(t *testing.T) {
	got := wrapText("the quick brown fox", 9)
	want := []string{"the quick", "brown fox"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("wrapText = %q", got)
	}
	if got := wrapText("abcdefghij", 4); strings.Join(got, "|") != "abcd|efgh|ij" {
		t.Fatalf("wrapText long word = %q", got)
	}
	if got := truncateWithEllipsis("abcdefgh", 5); got != "abcd…" {
		t.Fatalf("truncateWithEllipsis = %q", got)
	}
	if got := fitHeight("a\nb\nc", 2); got != "a\nb" {
		t.Fatalf("fitHeight = %q", got)
	}
	if got := positionLabels("ab", 4); strings.Join(got, "") != "^ab?" {
		t.Fatalf("positionLabels = %q", got)
	}
}

func update(t *testing.T, m app, msg tea.Msg) app {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(app)
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestUpdateNavigationAndPresets(t *testing.T) {
	m := newApp(session.New())
	m.splashActive = false
	m = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})

	m = update(t, m, keyRunes("j"))
	m = update(t, m, keyRunes("j"))
	if m.fieldIdx != 2 {
		t.Fatalf("fieldIdx = %d", m.fieldIdx)
	}
	m = update(t, m, keyRunes("k"))
	if m.fieldIdx != 1 {
		t.Fatalf("fieldIdx = %d", m.fieldIdx)
	}

	m = update(t, m, keyRunes("3"))
	if f := m.fieldByKey("N_EMBD"); f.Value != "32" {
		t.Fatalf("N_EMBD = %q after preset", f.Value)
	}
	if !m.dirty {
		t.Fatal("preset changing the architecture should mark the model dirty")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.tabIdx != tabAttention {
		t.Fatalf("tabIdx = %d", m.tabIdx)
	}
	if !strings.Contains(m.View(), "Attention") {
		t.Fatal("attention tab not rendered")
	}

	before := m.temperature
	m = update(t, m, keyRunes("]"))
	if math.Abs(m.temperature-math.Min(2, before+0.05)) > 1e-9 {
		t.Fatalf("temperature = %v", m.temperature)
	}
}

func TestUpdateEditField(t *testing.T) {
	m := newApp(session.New())
	m.splashActive = false
	m = update(t, m, keyRunes("e"))
	if !m.editing {
		t.Fatal("edit mode not entered")
	}
	m.editor.SetValue("names.txt")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.editing || m.fields[0].Value != "names.txt" {
		t.Fatalf("edit not applied: editing=%v value=%q", m.editing, m.fields[0].Value)
	}
}

func TestUpdateReports(t *testing.T) {
	m := newApp(session.New())
	m.splashActive = false
	m.running = true
	m = update(t, m, initMsg{info: model.InitInfo{NumParams: 10, VocabSize: 4, NumDocs: 2}})
	if !m.ready || m.status != "training" {
		t.Fatalf("ready=%v status=%q", m.ready, m.status)
	}
	for i := 1; i <= 3; i++ {
		m = update(t, m, reportMsg{Step: i, Loss: 3 - float64(i)/10, LearningRate: 0.01})
	}
	if len(m.lossSeries) != 3 || m.last.Step != 3 {
		t.Fatalf("series=%v last=%+v", m.lossSeries, m.last)
	}
	m = update(t, m, animTickMsg{})
	if len(m.lossAnimSeries) != 1 {
		t.Fatalf("anim series = %v", m.lossAnimSeries)
	}
	m = update(t, m, doneMsg{sum: session.Summary{Steps: 3, TotalSteps: 3, Stopped: true}})
	if m.running || m.status != "stopped" {
		t.Fatalf("running=%v status=%q", m.running, m.status)
	}
	m = update(t, m, samplesMsg{samples: []model.Sample{{Text: "ana"}, {Text: ""}}})
	if len(m.samples) != 2 || m.generating {
		t.Fatalf("samples=%v generating=%v", m.samples, m.generating)
	}
}

func TestRunBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.txt")
	if err := os.WriteFile(path, []byte("anna\nbob\nclara\ndave\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := model.DefaultOptions()
	opts.NEmbd, opts.NHead, opts.BlockSize, opts.NumSteps = 8, 2, 8, 4
	rc := runConfig{opts: opts, dataset: path, reportEvery: 2, temperature: 0.5, samples: 3}

	sess := session.New()
	ch := make(chan tea.Msg, 16)
	runBatch(context.Background(), sess, ch, rc, true)

	var reports int
	var done *doneMsg
	for len(ch) > 0 {
		switch msg := (<-ch).(type) {
		case initMsg:
			if msg.info.NumDocs != 4 {
				t.Fatalf("num docs = %d", msg.info.NumDocs)
			}
		case reportMsg:
			reports++
		case doneMsg:
			done = &msg
		}
	}
	if done == nil || done.err != nil {
		t.Fatalf("done = %+v", done)
	}
	if reports != 2 || done.sum.TotalSteps != 4 {
		t.Fatalf("reports=%d summary=%+v", reports, done.sum)
	}
}

func TestRunBatchMissingDataset(t *testing.T) {
	rc := runConfig{opts: model.DefaultOptions(), dataset: filepath.Join(t.TempDir(), "x.jsonl"), reportEvery: 1}
	ch := make(chan tea.Msg, 1)
	runBatch(context.Background(), session.New(), ch, rc, true)
	msg, ok := (<-ch).(doneMsg)
	if !ok || msg.err == nil {
		t.Fatalf("expected a failed doneMsg, got %+v", msg)
	}
}
