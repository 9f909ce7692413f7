package shell

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"crashdb/executor"
)

func (s *Session) print(result *executor.Result) error {
	var b strings.Builder
	if result.Columns != nil {
		writeTable(&b, result)
		fmt.Fprintf(&b, "(%d %s)\n", len(result.Rows), plural(len(result.Rows), "row", "rows"))
	} else if result.Tag == "INSERT" {
		fmt.Fprintf(&b, "INSERT %d\n", result.Affected)
	} else {
		fmt.Fprintln(&b, result.Tag)
	}
	_, err := fmt.Fprint(s.out, b.String())
	return err
}

func writeTable(b *strings.Builder, result *executor.Result) {
	widths := make([]int, len(result.Columns))
	for i, name := range result.Columns {
		widths[i] = utf8.RuneCountInString(name)
	}
	cells := make([][]string, len(result.Rows))
	for r, row := range result.Rows {
		cells[r] = make([]string, len(row))
		for i, v := range row {
			cells[r][i] = executor.FormatValue(v)
			widths[i] = max(widths[i], utf8.RuneCountInString(cells[r][i]))
		}
	}

	line := func(parts []string) {
		padded := make([]string, len(parts))
		for i, p := range parts {
			padded[i] = p + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(p))
		}
		b.WriteString(strings.TrimRight(strings.Join(padded, " | "), " "))
		b.WriteByte('\n')
	}
	line(result.Columns)
	separators := make([]string, len(widths))
	for i, w := range widths {
		separators[i] = strings.Repeat("-", w)
	}
	b.WriteString(strings.Join(separators, "-+-"))
	b.WriteByte('\n')
	for _, row := range cells {
		line(row)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
