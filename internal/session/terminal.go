package session

import (
	"strings"

	"github.com/peterh/liner"
)

var keywords = []string{"file ", "query ", "schema ", "table_name "}

// NewTerminal puts the controlling terminal into line-editing mode.
// Ctrl-C aborts the prompt instead of killing the process so that the
// history is still saved. The caller must Close it to restore the tty.
func NewTerminal() *liner.State {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	l.SetCompleter(complete)
	return l
}

func complete(line string) []string {
	var out []string
	lower := strings.ToLower(line)
	for _, k := range keywords {
		if strings.HasPrefix(k, lower) {
			out = append(out, k)
		}
	}
	return out
}
