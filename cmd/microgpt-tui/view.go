package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func (m app) renderTabs() string {
	parts := make([]string, len(m.tabs))
	for i, t := range m.tabs {
		if i == m.tabIdx {
			parts[i] = m.styles.tabActive.Render(t)
		} else {
			parts[i] = m.styles.tab.Render(t)
		}
	}
	return m.styles.title.Render("microgpt") + "  " + strings.Join(parts, " ")
}

func (m app) progressBar(w int) string {
	w = max(10, w)
	ratio := 0.0
	if total := m.batchEnd - m.batchFirst; total > 0 && m.hasLast {
		ratio = float64(m.last.Step-m.batchFirst) / float64(total)
	}
	done := min(w, max(0, int(math.Round(ratio*float64(w)))))
	return strings.Repeat("#", done) + strings.Repeat("-", w-done)
}

func (m app) panel(title string, lines []string, w int) string {
	return m.styles.panel.Width(panelInnerWidth(w)).Render(m.styles.panelTitle.Render(title) + "\n" + strings.Join(lines, "\n"))
}

func panelInnerWidth(total int) int {
	// rounded border (2 cols) + horizontal padding (2 cols)
	return max(8, total-4)
}

func (m app) statusLine() string {
	st := m.status
	switch st {
	case "completed":
		st = m.styles.ok.Render(st)
	case "error", "invalid config":
		st = m.styles.warn.Render(st)
	}
	if m.running || m.generating {
		st = m.spin.View() + " " + st
	}
	return st
}

func (m app) viewConfigPanel(w, h int) string {
	maxRows := max(6, min(len(m.fields), h-4))
	start := max(0, m.fieldIdx-maxRows/2)
	if start+maxRows > len(m.fields) {
		start = max(0, len(m.fields)-maxRows)
	}
	end := min(len(m.fields), start+maxRows)

	lines := make([]string, 0, end-start+2)
	for i := start; i < end; i++ {
		f := m.fields[i]
		row := fmt.Sprintf("%-14s = %s", f.Key, truncateWithEllipsis(f.Value, max(8, w-24)))
		if i == m.fieldIdx {
			lines = append(lines, m.styles.selected.Render("> "+row))
		} else {
			lines = append(lines, "  "+row)
		}
	}
	if m.dirty {
		lines = append(lines, "", m.styles.warn.Render("model settings changed: next run re-initializes"))
	}
	return m.panel("Config", lines, w)
}

func (m app) viewDetailPanel(w int) string {
	f := m.fields[m.fieldIdx]
	lines := []string{"Selected: " + f.Label}
	lines = append(lines, wrapText(f.Desc, max(20, w-6))...)
	lines = append(lines, "")
	for _, g := range fieldGuidance(f) {
		lines = append(lines, wrapText(g, max(20, w-6))...)
	}
	if m.editing {
		lines = append(lines, "", "Editing: "+m.editor.View(), m.styles.dim.Render("enter=apply esc=cancel"))
	}
	if m.lastError != "" {
		lines = append(lines, "", m.styles.warn.Render("Last Error: "+m.lastError))
	}
	return m.panel("Field Detail", lines, w)
}

func (m app) viewMetricsPanel(w, h int) string {
	inner := max(20, panelInnerWidth(w)-2)
	lines := []string{
		"Status: " + m.statusLine(),
		fmt.Sprintf("Step:   %d  [%s]", m.last.Step, m.progressBar(max(10, inner-18))),
	}
	if m.ready {
		lines = append(lines, fmt.Sprintf("Model:  params=%d vocab=%d docs=%d", m.info.NumParams, m.info.VocabSize, m.info.NumDocs))
	}
	if m.hasLast {
		lines = append(lines,
			fmt.Sprintf("Loss:   %.4f   lr %.5f   %.1f steps/s", m.last.Loss, m.last.LearningRate, m.stepsPer),
			fmt.Sprintf("Params: mean %+.5f std %.5f", m.last.ParamStats.Mean, m.last.ParamStats.Std),
			"Doc:    "+truncateWithEllipsis(m.last.Doc, max(8, inner-8)),
		)
	}
	graphH := max(4, min(12, h-len(lines)-8))
	series := m.lossAnimSeries
	if len(series) == 0 {
		series = m.lossSeries
	}
	lines = append(lines, "", m.styles.panelTitle.Render("Loss"))
	if latest, lo, hi, ok := seriesStats(m.lossSeries); ok {
		lines = append(lines, m.styles.dim.Render(fmt.Sprintf("latest %.4f  min %.4f  max %.4f", latest, lo, hi)))
	}
	for _, ln := range lineChart(series, max(8, inner-10), graphH) {
		lines = append(lines, m.styles.graphLoss.Render(ln))
	}
	lines = append(lines, "", m.styles.panelTitle.Render("Learning Rate"), m.styles.graphLR.Render(sparkline(m.lrSeries, inner)))
	return m.panel("Training", lines, w)
}

func (m app) viewLogPanel(w, h int) string {
	n := max(3, h-3)
	start := max(0, len(m.logs)-n)
	lines := make([]string, 0, n)
	for _, ln := range m.logs[start:] {
		lines = append(lines, truncateWithEllipsis(ln, max(10, panelInnerWidth(w)-1)))
	}
	if len(lines) == 0 {
		lines = append(lines, m.styles.dim.Render("no events yet"))
	}
	return m.panel("Log", lines, w)
}

func (m app) viewTrainTab(w, h int) string {
	if w < 110 {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.viewMetricsPanel(w, h/2),
			m.viewConfigPanel(w, h/2),
		)
	}
	leftW := max(40, int(float64(w)*0.42))
	rightW := max(40, w-leftW-2)
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.viewConfigPanel(leftW, h*3/5),
		m.viewDetailPanel(leftW),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.viewMetricsPanel(rightW, h*2/3),
		m.viewLogPanel(rightW, max(5, h/3-2)),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, fitHeight(left, h), "  ", fitHeight(right, h))
}

// positionLabels names the attended positions: BOS then the document.
func positionLabels(doc string, n int) []string {
	labels := make([]string, 0, n)
	labels = append(labels, "^")
	for _, r := range doc {
		if len(labels) >= n {
			break
		}
		labels = append(labels, string(r))
	}
	for len(labels) < n {
		labels = append(labels, "?")
	}
	return labels[:n]
}

func (m app) viewAttentionTab(w int) string {
	if !m.hasLast || len(m.last.Attention) == 0 {
		return m.panel("Attention", []string{m.styles.dim.Render("train a few steps to see attention weights")}, w)
	}
	lines := []string{
		m.styles.dim.Render("weights of the last position of: ") + m.last.Doc,
		"",
	}
	for li, heads := range m.last.Attention {
		lines = append(lines, m.styles.panelTitle.Render(fmt.Sprintf("layer %d", li)))
		for hi, weights := range heads {
			labels := positionLabels(m.last.Doc, len(weights))
			var axis strings.Builder
			for _, l := range labels {
				axis.WriteString(l)
				axis.WriteByte(' ')
			}
			top, at := 0.0, 0
			for i, v := range weights {
				if v > top {
					top, at = v, i
				}
			}
			lines = append(lines, fmt.Sprintf("  head %d  %s  peak %.2f at %q", hi, m.styles.heat.Render(heatRow(weights)), top, labels[at]))
			lines = append(lines, "          "+m.styles.dim.Render(axis.String()))
		}
		lines = append(lines, "")
	}
	if len(m.last.Embedding) > 0 {
		lines = append(lines, m.styles.panelTitle.Render("embedding (post-norm)"), sparkline(m.last.Embedding, min(len(m.last.Embedding)*2, max(8, w-8))))
	}
	return m.panel("Attention", lines, w)
}

func (m app) viewSamplesTab(w, h int) string {
	vp := m.sampleView
	vp.Width = max(20, panelInnerWidth(w))
	vp.Height = max(4, h-4)
	head := fmt.Sprintf("temperature %.2f  count %d", m.temperature, m.sampleCount())
	if m.generating {
		head = m.spin.View() + " generating  " + head
	}
	return m.panel("Samples", []string{m.styles.dim.Render(head), vp.View()}, w)
}

const vowels = "aeiouy"

func (m app) viewEmbeddingsTab(w, h int) string {
	if len(m.embeddings) == 0 {
		return m.panel("Embeddings", []string{m.styles.dim.Render("initialize a model to see token embeddings (r refreshes)")}, w)
	}
	points := make([]scatterPoint, 0, len(m.embeddings))
	for _, e := range m.embeddings {
		if len(e.Vector) < 2 {
			continue
		}
		label := e.Char
		if strings.HasPrefix(label, "<") {
			label = "^"
		}
		points = append(points, scatterPoint{X: e.Vector[0], Y: e.Vector[1], Label: label})
	}
	grid, _ := scatter(points, max(16, panelInnerWidth(w)-2), max(6, h-6))
	lines := []string{m.styles.dim.Render("dims 0 and 1 of the token embedding table")}
	for _, row := range grid {
		var b strings.Builder
		for _, r := range row {
			s := string(r)
			switch {
			case r == '^':
				b.WriteString(m.styles.special.Render(s))
			case strings.ContainsRune(vowels, r):
				b.WriteString(m.styles.vowel.Render(s))
			case r == ' ' || r == '┊' || r == '┈':
				b.WriteString(m.styles.dim.Render(s))
			default:
				b.WriteString(m.styles.consonant.Render(s))
			}
		}
		lines = append(lines, b.String())
	}
	lines = append(lines, m.styles.vowel.Render("vowel")+"  "+m.styles.consonant.Render("other")+"  "+m.styles.special.Render("^ BOS"))
	return m.panel("Embeddings", lines, w)
}

func (m app) viewFooter(w int) string {
	return m.styles.panel.Copy().Width(panelInnerWidth(w)).Render(m.help.View(m.keys))
}

func (m app) View() string {
	if m.width == 0 {
		return "loading..."
	}
	if m.splashActive {
		return m.viewSplash()
	}
	header := m.renderTabs()
	contentW := max(60, m.width-2)
	footer := m.viewFooter(contentW)
	contentH := max(8, m.height-lipgloss.Height(header)-lipgloss.Height(footer)-2)

	var content string
	switch m.tabIdx {
	case tabTrain:
		content = m.viewTrainTab(contentW, contentH)
	case tabAttention:
		content = m.viewAttentionTab(contentW)
	case tabSamples:
		content = m.viewSamplesTab(contentW, contentH)
	default:
		content = m.viewEmbeddingsTab(contentW, contentH)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, "", fitHeight(content, contentH), footer)
}

func (m app) viewSplash() string {
	title := "MicroGPT - Go Edition"
	p := clamp01(m.splashProgress)
	reveal := min(len(title), int(math.Round(float64(len(title))*p)))
	head := m.styles.splashText.Render(title[:reveal]) + m.styles.dim.Render(title[reveal:])

	barW := max(24, min(56, m.width-20))
	done := min(barW, int(math.Round(float64(barW)*p)))
	bar := "[" + strings.Repeat("=", done) + strings.Repeat(" ", barW-done) + "]"

	t := time.Since(m.splashStarted).Seconds()
	var wb strings.Builder
	for i := 0; i < barW; i++ {
		wb.WriteRune(shade(math.Sin(float64(i)*0.42+t*3.2)*0.5 + 0.5))
	}
	wave := lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Render(wb.String())

	body := lipgloss.JoinVertical(lipgloss.Center,
		head,
		"",
		wave,
		bar,
		m.styles.dim.Render("a character-level transformer, trained live"),
		m.styles.dim.Render("Press Enter to skip"),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.styles.splash.Render(body))
}
