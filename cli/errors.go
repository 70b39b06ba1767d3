package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/robinvdvleuten/flowcast/graph"
	"github.com/robinvdvleuten/flowcast/scenario"
)

var (
	errCaretStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF5F87", Dark: "#FF5F87"})
	errContextStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#808080", Dark: "#808080"})
)

// ErrorRenderer renders errors with terminal styling and source context.
type ErrorRenderer struct {
	source []byte
}

// NewErrorRenderer creates a renderer with source content for context.
func NewErrorRenderer(source []byte) *ErrorRenderer {
	return &ErrorRenderer{source: source}
}

// Render formats a single error with styling and context.
func (r *ErrorRenderer) Render(err error) string {
	if issue, ok := err.(graph.Issue); ok {
		return r.renderIssue(issue)
	}

	// Errors from included files arrive wrapped; their lines do not refer
	// to r.source.
	if parseErr, ok := err.(*scenario.ParseError); ok && parseErr.Line > 0 && r.source != nil {
		return r.renderWithSourceContext(parseErr.Line, err.Error(), r.source)
	}

	return errorStyle.Render(err.Error())
}

// RenderAll formats multiple errors, one per line.
func (r *ErrorRenderer) RenderAll(errs []error) string {
	if len(errs) == 0 {
		return ""
	}

	var buf strings.Builder
	for i, err := range errs {
		buf.WriteString(r.Render(err))

		if i < len(errs)-1 {
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

func (r *ErrorRenderer) renderIssue(issue graph.Issue) string {
	style := errorStyle
	if issue.Severity() == graph.SeverityWarning {
		style = warningStyle
	}
	return fmt.Sprintf("%s %s", style.Render(issue.Severity().String()+":"), issue.Error())
}

func (r *ErrorRenderer) renderWithSourceContext(line int, message string, sourceContent []byte) string {
	var buf strings.Builder

	buf.WriteString(errorStyle.Render(message))
	buf.WriteString("\n\n")

	sourceLines := strings.Split(string(sourceContent), "\n")

	startLine := max(line-3, 0)
	endLine := min(line, len(sourceLines)-1)

	for i := startLine; i <= endLine; i++ {
		buf.WriteString("   ")
		buf.WriteString(errContextStyle.Render(sourceLines[i]))
		buf.WriteByte('\n')

		if i == line-1 {
			content := strings.TrimLeft(sourceLines[i], " \t")
			indent := sourceLines[i][:len(sourceLines[i])-len(content)]
			width := max(runewidth.StringWidth(strings.TrimRight(content, " \t")), 1)

			buf.WriteString("   ")
			buf.WriteString(indent)
			buf.WriteString(errCaretStyle.Render(strings.Repeat("^", width)))
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}
