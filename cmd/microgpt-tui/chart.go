package main

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
)

const seriesCap = 5000

func appendSeries(series []float64, v float64, capN int) []float64 {
	series = append(series, v)
	if len(series) > capN {
		series = series[len(series)-capN:]
	}
	return series
}

// resample picks width evenly spaced points. Non-finite values are
// dropped first so one bad step does not flatten the chart.
func resample(series []float64, width int) []float64 {
	clean := make([]float64, 0, len(series))
	for _, v := range series {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) <= width {
		return clean
	}
	out := make([]float64, width)
	step := float64(len(clean)-1) / float64(width-1)
	for i := range out {
		idx := min(len(clean)-1, int(math.Round(float64(i)*step)))
		out[i] = clean[idx]
	}
	return out
}

func seriesStats(series []float64) (latest, minV, maxV float64, ok bool) {
	clean := resample(series, len(series))
	if len(clean) == 0 {
		return 0, 0, 0, false
	}
	return clean[len(clean)-1], floats.Min(clean), floats.Max(clean), true
}

func lineChart(series []float64, width, height int) []string {
	width = max(8, width)
	height = max(3, height)
	sampled := resample(series, width)
	if len(sampled) == 0 {
		return []string{strings.Repeat(".", width)}
	}
	minV, maxV := floats.Min(sampled), floats.Max(sampled)
	grid := make([][]rune, height)
	for r := range grid {
		grid[r] = []rune(strings.Repeat(" ", width))
	}
	lastRow := height / 2
	for x, v := range sampled {
		row := height / 2
		if maxV > minV {
			row = height - 1 - int(math.Round((v-minV)/(maxV-minV)*float64(height-1)))
		}
		row = min(height-1, max(0, row))
		grid[row][x] = '●'
		if x > 0 {
			lo, hi := min(row, lastRow), max(row, lastRow)
			for rr := lo + 1; rr < hi; rr++ {
				if grid[rr][x-1] == ' ' {
					grid[rr][x-1] = '│'
				}
			}
		}
		lastRow = row
	}
	lines := make([]string, height)
	for r := range grid {
		label := "         │"
		switch r {
		case 0:
			label = fmt.Sprintf("%8.3f ┤", maxV)
		case height - 1:
			label = fmt.Sprintf("%8.3f ┤", minV)
		}
		lines[r] = label + string(grid[r])
	}
	return lines
}

var sparkChars = []rune("▁▂▃▄▅▆▇█")

func sparkline(series []float64, width int) string {
	width = max(4, width)
	sampled := resample(series, width)
	if len(sampled) == 0 {
		return strings.Repeat(".", width)
	}
	minV, maxV := floats.Min(sampled), floats.Max(sampled)
	if maxV == minV {
		return strings.Repeat(string(sparkChars[len(sparkChars)-2]), width)
	}
	var b strings.Builder
	b.Grow(width * 3)
	for _, v := range sampled {
		pos := int(math.Round((v - minV) / (maxV - minV) * float64(len(sparkChars)-1)))
		b.WriteRune(sparkChars[min(len(sparkChars)-1, max(0, pos))])
	}
	for i := len(sampled); i < width; i++ {
		b.WriteRune(sparkChars[0])
	}
	return b.String()
}

var shadeChars = []rune(" ░▒▓█")

// shade maps a weight in [0,1] to a block character.
func shade(w float64) rune {
	idx := int(math.Round(clamp01(w) * float64(len(shadeChars)-1)))
	return shadeChars[idx]
}

// heatRow renders attention weights as shade cells, two columns per
// position.
func heatRow(weights []float64) string {
	var b strings.Builder
	for _, w := range weights {
		r := shade(w)
		b.WriteRune(r)
		b.WriteRune(r)
	}
	return b.String()
}

// scatterPoint is one labelled point of an embedding scatter plot.
type scatterPoint struct {
	X, Y  float64
	Label string
}

// scatter places points on a width x height character grid, scaled
// symmetrically by the largest absolute coordinate. Later points win when
// two land on the same cell. It returns the grid and each point's cell.
func scatter(points []scatterPoint, width, height int) ([][]rune, [][2]int) {
	width, height = max(8, width), max(4, height)
	grid := make([][]rune, height)
	for r := range grid {
		grid[r] = []rune(strings.Repeat(" ", width))
		grid[r][width/2] = '┊'
	}
	for c := range grid[height/2] {
		grid[height/2][c] = '┈'
	}
	maxAbs := 1e-3
	for _, p := range points {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	cells := make([][2]int, len(points))
	for i, p := range points {
		col := int(math.Round((p.X/maxAbs + 1) / 2 * float64(width-1)))
		row := int(math.Round((1 - (p.Y/maxAbs+1)/2) * float64(height-1)))
		col, row = min(width-1, max(0, col)), min(height-1, max(0, row))
		label := []rune(p.Label)
		if len(label) == 0 {
			label = []rune{'?'}
		}
		grid[row][col] = label[0]
		cells[i] = [2]int{row, col}
	}
	return grid, cells
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func fitHeight(s string, h int) string {
	if h <= 0 {
		return s
	}
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if len(lines) > h {
		lines = lines[:h]
	}
	for len(lines) < h {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// wrapText breaks s on spaces into lines of at most width runes; longer
// words are split.
func wrapText(s string, width int) []string {
	if width <= 1 {
		return []string{s}
	}
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		words := strings.FieldsFunc(p, unicode.IsSpace)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		var cur []rune
		for _, w := range words {
			rw := []rune(w)
			for len(rw) > width {
				if len(cur) > 0 {
					out = append(out, string(cur))
					cur = nil
				}
				out = append(out, string(rw[:width]))
				rw = rw[width:]
			}
			switch {
			case len(cur) == 0:
				cur = rw
			case len(cur)+1+len(rw) <= width:
				cur = append(append(cur, ' '), rw...)
			default:
				out = append(out, string(cur))
				cur = rw
			}
		}
		if len(cur) > 0 {
			out = append(out, string(cur))
		}
	}
	return out
}

func truncateWithEllipsis(s string, maxRunes int) string {
	maxRunes = max(4, maxRunes)
	rs := []rune(s)
	if len(rs) <= maxRunes {
		return s
	}
	return string(rs[:maxRunes-1]) + "…"
}
