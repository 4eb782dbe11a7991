// Package batch groups extracted documents into provenance-delimited prompts.
package batch

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSize is the maximum number of documents per batch.
const DefaultSize = 5

const (
	startPrefix = "[[START_FILE: "
	startSuffix = "]]"
	endMarker   = "[[END_FILE]]"
)

var (
	// ErrUnsafeFilename is returned for filenames that could forge or break delimiters.
	ErrUnsafeFilename = errors.New("filename contains delimiter tokens")
	// ErrDuplicateFilename is returned when one input set names a file twice.
	ErrDuplicateFilename = errors.New("duplicate filename in input set")
	// ErrMalformed is returned by Split for text without well-formed delimiter pairs.
	ErrMalformed = errors.New("malformed combined text")
)

// Item is one document's identity and flattened text.
type Item struct {
	Name string
	Text string
}

// Batch is one combined prompt and the filenames it covers, in order.
type Batch struct {
	Index int // 0-based position among the run's batches
	Files []string
	Text  string
}

// Len returns the number of documents in the batch.
func (b Batch) Len() int {
	return len(b.Files)
}

// ValidateFilename rejects names that are empty or could be confused with delimiters.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty filename", ErrUnsafeFilename)
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrUnsafeFilename, name)
	}
	for _, tok := range []string{"[[", "]]", "START_FILE", "END_FILE", "\n", "\r"} {
		if strings.Contains(name, tok) {
			return fmt.Errorf("%w: %q contains %q", ErrUnsafeFilename, name, tok)
		}
	}
	return nil
}

// Partition splits items into contiguous chunks of at most size, preserving order.
// A non-positive size uses DefaultSize.
func Partition(items []Item, size int) [][]Item {
	if size <= 0 {
		size = DefaultSize
	}
	chunks := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Wrap renders one document between its file delimiters.
func Wrap(name, text string) string {
	var sb strings.Builder
	sb.Grow(len(name) + len(text) + 40)
	sb.WriteString(startPrefix)
	sb.WriteString(name)
	sb.WriteString(startSuffix)
	sb.WriteByte('\n')
	sb.WriteString(text)
	sb.WriteByte('\n')
	sb.WriteString(endMarker)
	sb.WriteByte('\n')
	return sb.String()
}

// Assemble validates the input set and builds batches of at most size documents.
// The whole input set is rejected when any filename is unsafe or duplicated;
// use Screen first to drop offending items and keep the rest.
func Assemble(items []Item, size int) ([]Batch, error) {
	if _, rejected := Screen(items); len(rejected) > 0 {
		return nil, rejected[0]
	}

	chunks := Partition(items, size)
	batches := make([]Batch, 0, len(chunks))
	for i, chunk := range chunks {
		b := Batch{Index: i, Files: make([]string, 0, len(chunk))}
		var sb strings.Builder
		for _, item := range chunk {
			b.Files = append(b.Files, item.Name)
			sb.WriteString(Wrap(item.Name, item.Text))
		}
		b.Text = sb.String()
		batches = append(batches, b)
	}
	return batches, nil
}

// RejectedItem pairs an item's name with the reason it was screened out.
type RejectedItem struct {
	Name string
	Err  error
}

func (r RejectedItem) Error() string {
	return r.Err.Error()
}

func (r RejectedItem) Unwrap() error {
	return r.Err
}

// Screen separates items that can be assembled from those that cannot:
// unsafe filenames, repeats of an earlier filename, and text that itself
// contains file delimiters.
func Screen(items []Item) (accepted []Item, rejected []RejectedItem) {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if err := ValidateFilename(item.Name); err != nil {
			rejected = append(rejected, RejectedItem{Name: item.Name, Err: err})
			continue
		}
		if _, dup := seen[item.Name]; dup {
			rejected = append(rejected, RejectedItem{
				Name: item.Name,
				Err:  fmt.Errorf("%w: %s", ErrDuplicateFilename, item.Name),
			})
			continue
		}
		if strings.Contains(item.Text, startPrefix) || strings.Contains(item.Text, endMarker) {
			rejected = append(rejected, RejectedItem{
				Name: item.Name,
				Err:  fmt.Errorf("%w: text of %s contains file delimiters", ErrUnsafeFilename, item.Name),
			})
			continue
		}
		seen[item.Name] = struct{}{}
		accepted = append(accepted, item)
	}
	return accepted, rejected
}

// Files flattens the filename lists of batches, in order.
func Files(batches []Batch) []string {
	var names []string
	for _, b := range batches {
		names = append(names, b.Files...)
	}
	return names
}

// Split parses combined text back into items. It is the inverse of the
// concatenation done by Assemble.
func Split(combined string) ([]Item, error) {
	var items []Item
	rest := combined
	for {
		rest = strings.TrimLeft(rest, "\n")
		if rest == "" {
			return items, nil
		}
		if !strings.HasPrefix(rest, startPrefix) {
			return nil, fmt.Errorf("%w: expected start marker at %q", ErrMalformed, head(rest))
		}
		headerEnd := strings.Index(rest, startSuffix+"\n")
		if headerEnd < 0 {
			return nil, fmt.Errorf("%w: unterminated start marker", ErrMalformed)
		}
		name := rest[len(startPrefix):headerEnd]
		body := rest[headerEnd+len(startSuffix)+1:]

		end := strings.Index(body, "\n"+endMarker)
		if end < 0 {
			return nil, fmt.Errorf("%w: missing end marker for %s", ErrMalformed, name)
		}
		items = append(items, Item{Name: name, Text: body[:end]})
		rest = body[end+1+len(endMarker):]
	}
}

func head(s string) string {
	if len(s) > 40 {
		return s[:40]
	}
	return s
}
