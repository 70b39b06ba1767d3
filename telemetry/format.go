package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/robinvdvleuten/flowcast/output"
)

// slowOperation marks timings that are highlighted in the report.
const slowOperation = 100 * time.Millisecond

// formatTimingTree writes a timer and its children as a tree:
//
//	simulation.run (4 nodes, 3 rules, 120 months): 2ms
//	├─ simulation.setup: 0ms
//	└─ simulation.months (120): 2ms
func formatTimingTree(w io.Writer, root *timerNode) {
	styles := output.NewStyles(w)

	_, _ = fmt.Fprintf(w, "%s: %s\n", styles.Keyword(root.name), formatDuration(root.duration()))

	for i, child := range root.children {
		formatNode(w, child, "", i == len(root.children)-1, styles)
	}
}

func formatNode(w io.Writer, node *timerNode, prefix string, isLast bool, styles *output.Styles) {
	branch, extension := "├─ ", "│  "
	if isLast {
		branch, extension = "└─ ", "   "
	}

	duration := node.duration()
	timing := styles.Timing(formatDuration(duration), duration >= slowOperation)

	_, _ = fmt.Fprintf(w, "%s%s: %s\n", styles.Dim(prefix+branch), node.name, timing)

	for i, child := range node.children {
		formatNode(w, child, prefix+extension, i == len(node.children)-1, styles)
	}
}

// duration of a timer that was never ended is reported as zero.
func (n *timerNode) duration() time.Duration {
	if n.end.IsZero() {
		return 0
	}
	return n.end.Sub(n.start)
}

// formatDuration shows milliseconds below one second and seconds above.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.0fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.2fs", float64(d)/float64(time.Second))
}
