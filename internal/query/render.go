package query

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// Render prints rs as an aligned, pipe-separated table followed by a
// row-count footer.
func Render(w io.Writer, rs *RowSet) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.Debug)

	if len(rs.Columns) > 0 {
		fmt.Fprintln(tw, strings.Join(rs.Columns, "\t"))
		rule := make([]string, len(rs.Columns))
		for i, c := range rs.Columns {
			rule[i] = strings.Repeat("-", max(len(c), 4))
		}
		fmt.Fprintln(tw, strings.Join(rule, "\t"))
	}

	cells := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i, v := range row {
			cells[i] = cell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w, Footer(rs))
	return err
}

// Footer summarises rs, e.g. "3 rows in set (0.002 sec)".
func Footer(rs *RowSet) string {
	elapsed := fmt.Sprintf("(%.3f sec)", rs.Elapsed.Seconds())
	switch n := len(rs.Rows); n {
	case 0:
		return "Empty set " + elapsed
	case 1:
		return "1 row in set " + elapsed
	default:
		return humanize.Comma(int64(n)) + " rows in set " + elapsed
	}
}

func cell(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprint(v)
	// Tabs and newlines would break the column layout.
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}
