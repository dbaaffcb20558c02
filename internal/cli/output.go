package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A job failed for at least one store or row
	ExitCommandError = 2 // Command error (bad flags, no stores, unreadable input)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command's output.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#66FF66")).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AA00")).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#006600"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
)

// printer writes results as JSON or as styled text tables.
type printer struct {
	format string
	w      io.Writer
}

func (p *printer) isJSON() bool {
	return p.format == "json"
}

// emit writes data. In text mode render is called instead.
func (p *printer) emit(data any, render func(p *printer)) error {
	if p.isJSON() {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: "ok", Data: data})
	}
	render(p)
	return nil
}

func (p *printer) title(format string, args ...any) {
	fmt.Fprintln(p.w, titleStyle.Render(fmt.Sprintf(format, args...)))
}

func (p *printer) warn(format string, args ...any) {
	fmt.Fprintln(p.w, warnStyle.Render(fmt.Sprintf(format, args...)))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		p.line("(none)")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(p.w, t.Render())
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
