package report

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// minColumnWidth keeps the separator at least "---".
const minColumnWidth = 3

// AlignTable renders rows as a markdown table whose pipes line up in a
// terminal. Widths are measured in display cells, not bytes.
func AlignTable(header []string, rows [][]string) []string {
	colCount := len(header)
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	widths := make([]int, colCount)
	measure := func(row []string) {
		for i := 0; i < len(row) && i < colCount; i++ {
			if w := runewidth.StringWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	measure(header)

	for _, row := range rows {
		measure(row)
	}

	for i := range widths {
		if widths[i] < minColumnWidth {
			widths[i] = minColumnWidth
		}
	}

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, renderRow(header, widths, false))
	lines = append(lines, renderRow(nil, widths, true))

	for _, row := range rows {
		lines = append(lines, renderRow(row, widths, false))
	}

	return lines
}

func renderRow(row []string, widths []int, separator bool) string {
	var sb strings.Builder

	sb.WriteString("|")

	for j, width := range widths {
		sb.WriteString(" ")

		if separator {
			sb.WriteString(strings.Repeat("-", width))
		} else {
			content := ""
			if j < len(row) {
				content = row[j]
			}

			sb.WriteString(runewidth.FillRight(content, width))
		}

		sb.WriteString(" |")
	}

	return sb.String()
}
