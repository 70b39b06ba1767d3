package scenario

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError is returned when a scenario file cannot be decoded.
type ParseError struct {
	Filename string
	Line     int
	Message  string
	Err      error
}

func (e *ParseError) Error() string {
	location := e.Filename
	switch {
	case e.Filename == "" && e.Line > 0:
		location = fmt.Sprintf("line %d", e.Line)
	case e.Line > 0:
		location = fmt.Sprintf("%s:%d", e.Filename, e.Line)
	case e.Filename == "":
		return e.Message
	}

	return fmt.Sprintf("%s: %s", location, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var linePattern = regexp.MustCompile(`^(?:yaml: )?line (\d+): `)

// newParseError creates a parse error from a yaml.v3 error, moving the line
// number out of the message. Only the first problem of a type error is
// reported.
func newParseError(filename string, err error) *ParseError {
	message := err.Error()

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		message = typeErr.Errors[0]
	}

	line := 0
	if m := linePattern.FindStringSubmatch(message); m != nil {
		line, _ = strconv.Atoi(m[1])
		message = message[len(m[0]):]
	}
	message = strings.TrimPrefix(message, "yaml: ")

	return &ParseError{
		Filename: filename,
		Line:     line,
		Message:  message,
		Err:      err,
	}
}
