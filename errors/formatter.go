// Package errors renders scenario and validation errors. It separates error
// formatting from domain logic, allowing errors to be rendered in multiple
// formats (text, JSON) for different consumers (CLI, web UI, API).
//
// The package defines a Formatter interface and provides two implementations:
//   - TextFormatter: Formats errors for command-line output
//   - JSONFormatter: Formats errors as structured JSON for APIs and web interfaces
//
// Domain-specific error types remain in their respective packages (graph,
// scenario), while this package handles the presentation layer.
package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"

	"github.com/robinvdvleuten/flowcast/graph"
	"github.com/robinvdvleuten/flowcast/scenario"
)

const modulePath = "github.com/robinvdvleuten/flowcast/"

// Formatter formats errors for output in different formats.
type Formatter interface {
	// Format formats a single error.
	Format(err error) string

	// FormatAll formats multiple errors.
	FormatAll(errs []error) string
}

// TextFormatter formats errors for command-line output.
type TextFormatter struct {
	sourceContent []byte // Optional source content for parse error context
}

// TextFormatterOption is an option for configuring TextFormatter.
type TextFormatterOption func(*TextFormatter)

// WithSource sets the source content for parse error context.
func WithSource(source []byte) TextFormatterOption {
	return func(tf *TextFormatter) {
		tf.sourceContent = source
	}
}

// NewTextFormatter creates a new text formatter.
func NewTextFormatter(opts ...TextFormatterOption) *TextFormatter {
	tf := &TextFormatter{}
	for _, opt := range opts {
		opt(tf)
	}
	return tf
}

// Format formats a single error. Validation issues are prefixed with their
// severity, parse errors are followed by the offending source lines when
// the source is known.
func (tf *TextFormatter) Format(err error) string {
	var verr *graph.ValidationErrors
	if stderrors.As(err, &verr) {
		return tf.FormatAll(verr.Errors)
	}

	if issue, ok := err.(graph.Issue); ok {
		return fmt.Sprintf("%s: %s", issue.Severity(), issue.Error())
	}

	var parseErr *scenario.ParseError
	if stderrors.As(err, &parseErr) && parseErr.Line > 0 && tf.sourceContent != nil {
		return tf.formatWithSourceContext(parseErr.Line, err.Error(), tf.sourceContent)
	}

	// Fallback to standard error formatting
	return err.Error()
}

// FormatAll formats multiple errors, one per line.
func (tf *TextFormatter) FormatAll(errs []error) string {
	if len(errs) == 0 {
		return ""
	}

	var buf bytes.Buffer
	for i, err := range errs {
		buf.WriteString(tf.Format(err))
		if i < len(errs)-1 {
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// formatWithSourceContext shows the error message followed by the source
// lines around the error, with the offending line underlined.
func (tf *TextFormatter) formatWithSourceContext(line int, message string, sourceContent []byte) string {
	var buf bytes.Buffer

	buf.WriteString(message)
	buf.WriteString("\n\n")

	sourceLines := strings.Split(string(sourceContent), "\n")

	// Show 2 lines before and 1 line after the error line
	startLine := max(line-3, 0)
	endLine := min(line, len(sourceLines)-1)

	for i := startLine; i <= endLine; i++ {
		buf.WriteString("   ")
		buf.WriteString(sourceLines[i])
		buf.WriteByte('\n')

		// line is 1-based, i is 0-based
		if i == line-1 {
			content := strings.TrimLeft(sourceLines[i], " \t")
			indent := sourceLines[i][:len(sourceLines[i])-len(content)]
			width := max(runewidth.StringWidth(strings.TrimRight(content, " \t")), 1)

			buf.WriteString("   ")
			buf.WriteString(indent)
			buf.WriteString(strings.Repeat("^", width))
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// JSONFormatter formats errors as JSON.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// ErrorJSON represents an error in JSON format.
type ErrorJSON struct {
	Severity string        `json:"severity"`
	Kind     string        `json:"kind"`
	Message  string        `json:"message"`
	Nodes    []string      `json:"nodes,omitempty"`
	Position *PositionJSON `json:"position,omitempty"`
}

// PositionJSON represents a file position in JSON format.
type PositionJSON struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
}

// Format formats a single error as JSON.
func (jf *JSONFormatter) Format(err error) string {
	data, _ := json.Marshal(jf.toJSON(err))
	return string(data)
}

// FormatAll formats multiple errors as a JSON array.
func (jf *JSONFormatter) FormatAll(errs []error) string {
	data, _ := json.MarshalIndent(jf.FormatAllToSlice(errs), "", "  ")
	return string(data)
}

// FormatAllToSlice returns errors as a slice of ErrorJSON structs.
// A *graph.ValidationErrors is flattened into its issues.
func (jf *JSONFormatter) FormatAllToSlice(errs []error) []ErrorJSON {
	result := make([]ErrorJSON, 0, len(errs))
	for _, err := range errs {
		var verr *graph.ValidationErrors
		if stderrors.As(err, &verr) {
			result = append(result, jf.FormatAllToSlice(verr.Errors)...)
			continue
		}
		result = append(result, jf.toJSON(err))
	}
	return result
}

// toJSON converts an error to ErrorJSON.
func (jf *JSONFormatter) toJSON(err error) ErrorJSON {
	errJSON := ErrorJSON{
		Severity: graph.SeverityError.String(),
		Kind:     Kind(err),
		Message:  err.Error(),
	}

	if issue, ok := err.(graph.Issue); ok {
		errJSON.Severity = issue.Severity().String()
		errJSON.Nodes = issue.Nodes()
	}

	var parseErr *scenario.ParseError
	if stderrors.As(err, &parseErr) {
		errJSON.Kind = Kind(parseErr)
		errJSON.Message = parseErr.Message
		errJSON.Position = &PositionJSON{
			Filename: parseErr.Filename,
			Line:     parseErr.Line,
		}
	}

	return errJSON
}

// Kind derives a stable identifier from an error's type, e.g.
// *graph.DuplicateNodeError becomes "duplicate_node". Errors defined outside
// this module are "error".
func Kind(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	name := strings.TrimSuffix(t.Name(), "Error")
	if name == "" || !strings.HasPrefix(t.PkgPath(), modulePath) {
		return "error"
	}

	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
