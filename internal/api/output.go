// Package api formats command results for the terminal.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

// DefaultOutput is the default output format.
var DefaultOutput OutputFormat = OutputFormatYAML

var (
	mu sync.RWMutex
	// globalOutputFormat is set by the root command's --output flag.
	globalOutputFormat OutputFormat = OutputFormatYAML
	stdout             io.Writer    = os.Stdout
	stderr             io.Writer    = os.Stderr
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(format string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(format))) {
	case OutputFormatJSON:
		return OutputFormatJSON, nil
	case OutputFormatYAML, "yml":
		return OutputFormatYAML, nil
	case "":
		return DefaultOutput, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

// SetOutputFormat sets the global output format.
func SetOutputFormat(format OutputFormat) {
	mu.Lock()
	defer mu.Unlock()
	globalOutputFormat = format
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	mu.RLock()
	defer mu.RUnlock()
	return globalOutputFormat
}

// SetWriters redirects Output and Warnf. Used by command tests.
func SetWriters(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	stdout, stderr = out, errOut
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	mu.RLock()
	w, format := stdout, globalOutputFormat
	mu.RUnlock()
	return OutputTo(w, format, data)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// Warnf writes a human-readable warning line to stderr, keeping stdout
// parseable.
func Warnf(format string, args ...any) {
	mu.RLock()
	w := stderr
	mu.RUnlock()
	fmt.Fprintf(w, "warning: "+format+"\n", args...)
}
