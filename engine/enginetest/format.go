package enginetest

import (
	"math"
	"strconv"
	"strings"

	"github.com/chazu/jfe/jarray"
)

// format renders a the way the engine's console does: numbers with _ for
// negatives, tables right-aligned per column, boxes drawn in ASCII.
func format(a *array) string {
	return strings.Join(lines(a), "\n")
}

func lines(a *array) []string {
	switch a.typ {
	case jarray.Literal:
		return charLines(a)
	case jarray.Box:
		return boxLines(a)
	}
	return numberLines(a)
}

func formatInt(n int64) string {
	if n < 0 {
		return "_" + strconv.FormatInt(-n, 10)
	}
	return strconv.FormatInt(n, 10)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "_"
	case math.IsInf(f, -1):
		return "__"
	}
	s := strconv.FormatFloat(f, 'g', 6, 64)
	return strings.Replace(s, "-", "_", -1)
}

func (a *array) atom(i int) string {
	if a.typ == typeFloat {
		return formatFloat(a.floats[i])
	}
	return formatInt(a.ints[i])
}

// planes views a as rows of its last axis.
// breaks lists the rows that start a new plane of a higher-rank array.
func planes(a *array) (rows, width int, breaks []int) {
	if a.rank() == 0 {
		return 1, 1, nil
	}
	width = int(a.shape[a.rank()-1])
	n := int(a.count())
	if width > 0 {
		rows = n / width
	}
	if a.rank() > 2 {
		per := int(a.shape[a.rank()-2])
		for r := per; r < rows; r += per {
			breaks = append(breaks, r)
		}
	}
	return rows, width, breaks
}

func withBreaks(out []string, r int, breaks []int) []string {
	for _, b := range breaks {
		if b == r {
			return append(out, "")
		}
	}
	return out
}

func numberLines(a *array) []string {
	rows, width, breaks := planes(a)
	cells := make([]string, a.count())
	for i := range cells {
		cells[i] = a.atom(i)
	}
	if a.rank() <= 1 {
		return []string{strings.Join(cells, " ")}
	}
	colw := make([]int, width)
	for i, c := range cells {
		colw[i%width] = max(colw[i%width], len(c))
	}
	var out []string
	for r := 0; r < rows; r++ {
		out = withBreaks(out, r, breaks)
		var b strings.Builder
		for c := 0; c < width; c++ {
			if c > 0 {
				b.WriteByte(' ')
			}
			cell := cells[r*width+c]
			b.WriteString(strings.Repeat(" ", colw[c]-len(cell)))
			b.WriteString(cell)
		}
		out = append(out, b.String())
	}
	return out
}

func charLines(a *array) []string {
	if a.rank() <= 1 {
		return []string{string(a.chars)}
	}
	rows, width, breaks := planes(a)
	var out []string
	for r := 0; r < rows; r++ {
		out = withBreaks(out, r, breaks)
		out = append(out, string(a.chars[r*width:(r+1)*width]))
	}
	return out
}

// boxLines draws a scalar or list of boxes on one row of cells.
func boxLines(a *array) []string {
	cells := make([][]string, len(a.boxes))
	height := 0
	for i, b := range a.boxes {
		cells[i] = lines(b)
		height = max(height, len(cells[i]))
	}
	widths := make([]int, len(cells))
	for i, c := range cells {
		for _, l := range c {
			widths[i] = max(widths[i], len(l))
		}
	}

	rule := func() string {
		var b strings.Builder
		b.WriteByte('+')
		for _, w := range widths {
			b.WriteString(strings.Repeat("-", w))
			b.WriteByte('+')
		}
		return b.String()
	}

	out := []string{rule()}
	for r := 0; r < height; r++ {
		var b strings.Builder
		b.WriteByte('|')
		for i, c := range cells {
			l := ""
			if r < len(c) {
				l = c[r]
			}
			b.WriteString(l)
			b.WriteString(strings.Repeat(" ", widths[i]-len(l)))
			b.WriteByte('|')
		}
		out = append(out, b.String())
	}
	return append(out, rule())
}
