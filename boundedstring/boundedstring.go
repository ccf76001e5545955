// Package boundedstring implements the bounded string manager (C5): a
// per-field pipeline of summarize → compress → syntax-aware truncate that
// keeps large state fields (codebase trees, notes) within a configured byte
// budget.
package boundedstring

import (
	"strconv"
	"strings"
	"time"

	"github.com/solstice-labs/agentmem/config"
	"github.com/solstice-labs/agentmem/internal/sizeutil"
	"github.com/solstice-labs/agentmem/truncate"
)

// Well-known field names with dedicated summarizers.
const (
	FieldCodebaseTree = "codebaseTree"
	FieldContextNotes = "contextNotes"
)

// Flags records which reduction steps were applied to the current text.
type Flags struct {
	Summarized bool
	Compressed bool
}

// BoundedString is a named field carrying bounded text. When Compressed,
// the text is stored gzip-encoded and Content() decompresses on read.
type BoundedString struct {
	Field        string
	Flags        Flags
	OriginalSize int64
	CurrentSize  int64
	LastModified time.Time

	text       string
	compressed []byte
}

// Content returns the field's current text, decompressing if necessary.
func (b *BoundedString) Content() (string, error) {
	if b.Flags.Compressed {
		raw, err := sizeutil.Gunzip(b.compressed)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return b.text, nil
}

const giantTreeThreshold = 10 * 1024 * 1024

// Process runs the bounded-string pipeline over text for the named field,
// applying the field's configuration (falling back to the default field
// config when no override exists).
func Process(text string, field string, cfg *config.ASMSConfig) (*BoundedString, error) {
	fc := cfg.FieldConfig(field)
	originalSize := int64(len(text))

	current := text
	summarized := false
	if fc.SummarizationEnabled && originalSize > fc.SummarizeThreshold {
		current = summarize(current, field)
		summarized = true
	}

	compressed := false
	var compressedBytes []byte
	if fc.CompressionEnabled && int64(len(current)) > fc.CompressThreshold {
		cb, err := sizeutil.Gzip([]byte(current))
		if err == nil {
			compressedBytes = cb
			compressed = true
		}
	}

	currentSize := int64(len(current))
	if compressed {
		currentSize = int64(len(compressedBytes))
	}

	if fc.MaxSize > 0 && currentSize > fc.MaxSize {
		budget := int64(float64(fc.MaxSize) * 0.80)
		if budget < 1 {
			budget = 1
		}
		res, err := truncate.Truncate(current, int(budget), "")
		if err == nil {
			current = res.Content
		}
		if compressed {
			if cb2, err2 := sizeutil.Gzip([]byte(current)); err2 == nil {
				compressedBytes = cb2
			}
		}
	}

	finalSize := int64(len(current))
	if compressed {
		finalSize = int64(len(compressedBytes))
	}

	bs := &BoundedString{
		Field:        field,
		Flags:        Flags{Summarized: summarized, Compressed: compressed},
		OriginalSize: originalSize,
		CurrentSize:  finalSize,
		LastModified: time.Now(),
	}
	if compressed {
		bs.compressed = compressedBytes
	} else {
		bs.text = current
	}
	return bs, nil
}

// Reduce implements the replace-by-write reducer form: prior content is
// discarded and the update is run through Process.
func Reduce(update string, field string, cfg *config.ASMSConfig) (*BoundedString, error) {
	return Process(update, field, cfg)
}

func summarize(text, field string) string {
	switch field {
	case FieldCodebaseTree:
		return summarizeCodebaseTree(text)
	case FieldContextNotes:
		return summarizeContextNotes(text)
	default:
		return summarizeGeneric(text)
	}
}

var priorityPatterns = []string{
	".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".rs", ".java", ".rb", ".c", ".cpp", ".h", ".md",
	"package.json", "go.mod", "cargo.toml", "pyproject.toml", "readme", "dockerfile", "makefile", "webpack.config",
}

const maxCodebaseTreeLines = 2000

func summarizeCodebaseTree(text string) string {
	if len(text) > giantTreeThreshold {
		res, err := truncate.Truncate(text, giantTreeThreshold/4, truncate.ContentTree)
		if err == nil {
			return res.Content
		}
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, maxCodebaseTreeLines)
	lower := make([]string, len(lines))
	for i, l := range lines {
		lower[i] = strings.ToLower(l)
	}
	for i, l := range lines {
		if len(kept) >= maxCodebaseTreeLines {
			break
		}
		for _, p := range priorityPatterns {
			if strings.Contains(lower[i], p) {
				kept = append(kept, l)
				break
			}
		}
	}
	header := "# codebaseTree summary: " + strconv.Itoa(len(lines)) + " original lines, " + strconv.Itoa(len(kept)) + " retained\n"
	return header + strings.Join(kept, "\n")
}

var contextNoteMarkers = []string{"task:", "plan:", "error:", "completed:", "todo:", "issue:", "fix:"}

const maxContextNoteSections = 20

func summarizeContextNotes(text string) string {
	sections := strings.Split(text, "\n\n")
	var kept []string
	for _, s := range sections {
		lower := strings.ToLower(s)
		for _, m := range contextNoteMarkers {
			if strings.Contains(lower, m) {
				kept = append(kept, s)
				break
			}
		}
	}
	if len(kept) > maxContextNoteSections {
		kept = kept[len(kept)-maxContextNoteSections:]
	}
	header := "# contextNotes summary: " + strconv.Itoa(len(sections)) + " sections, " + strconv.Itoa(len(kept)) + " retained\n\n"
	return header + strings.Join(kept, "\n\n")
}

var genericMarkers = []string{"error", "warning", "todo", "fixme", "important", "critical"}

const genericHeadTailLines = 50
const maxGenericMarkerLines = 100

func summarizeGeneric(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= genericHeadTailLines*2 {
		return text
	}

	head := lines[:genericHeadTailLines]
	tail := lines[len(lines)-genericHeadTailLines:]

	var marked []string
	for _, l := range lines[genericHeadTailLines : len(lines)-genericHeadTailLines] {
		lower := strings.ToLower(l)
		for _, m := range genericMarkers {
			if strings.Contains(lower, m) {
				marked = append(marked, l)
				break
			}
		}
		if len(marked) >= maxGenericMarkerLines {
			break
		}
	}

	var b strings.Builder
	b.WriteString("--- head ---\n")
	b.WriteString(strings.Join(head, "\n"))
	b.WriteString("\n--- marked ---\n")
	b.WriteString(strings.Join(marked, "\n"))
	b.WriteString("\n--- tail ---\n")
	b.WriteString(strings.Join(tail, "\n"))
	return b.String()
}

