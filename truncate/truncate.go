// Package truncate implements the syntax-aware truncator (C3): type
// dispatch over content kinds with a strategy per kind that guarantees
// parseable output for structured content (JSON, JS/TS, codebase trees)
// and a safe head/tail strategy for everything else.
package truncate

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/solstice-labs/agentmem/jsonrepair"
)

// ContentType is the tag dispatched on by Truncate. Per the design notes,
// this replaces the deep dynamic dispatch of the source runtime with a
// small closed set of tagged variants.
type ContentType string

// Recognized content types.
const (
	ContentJSON    ContentType = "json"
	ContentJSTS    ContentType = "jsts"
	ContentHTML    ContentType = "html"
	ContentTree    ContentType = "tree"
	ContentGeneric ContentType = "generic"
)

// Result is the outcome of a Truncate call.
type Result struct {
	Content      string
	Truncated    bool
	OriginalSize int
	FinalSize    int
	SyntaxValid  bool
	Method       string
}

// maxStrategyAttempts bounds the number of (strategy-step, verify) round
// trips any single strategy may take before falling back to generic.
const maxStrategyAttempts = 3

// Truncate reduces text to at most maxBytes, using contentType when given
// or auto-detecting it otherwise. When text already fits, it is returned
// unchanged with Method "none".
func Truncate(text string, maxBytes int, contentType ContentType) (Result, error) {
	if maxBytes <= 0 {
		return Result{}, errors.New("maxBytes must be positive")
	}
	original := len(text)
	if original == 0 {
		return Result{Content: "", Truncated: false, OriginalSize: 0, FinalSize: 0, SyntaxValid: true, Method: "none"}, nil
	}
	if original <= maxBytes {
		return Result{Content: text, Truncated: false, OriginalSize: original, FinalSize: original, SyntaxValid: true, Method: "none"}, nil
	}

	ct := contentType
	if ct == "" {
		ct = DetectType(text)
	}

	var res Result
	switch ct {
	case ContentJSON:
		res = truncateJSON(text, maxBytes)
	case ContentJSTS:
		res = truncateJSTS(text, maxBytes)
	case ContentTree:
		res = truncateTree(text, maxBytes)
	case ContentHTML:
		res = truncateGeneric(text, maxBytes) // safe, syntax-non-breaking fallthrough
	default:
		res = truncateGeneric(text, maxBytes)
	}
	res.OriginalSize = original
	res.FinalSize = len(res.Content)
	res.Truncated = true
	return res, nil
}

var (
	jsTSIndicatorRe = regexp.MustCompile(`\b(function|class|export|import)\b|=>`)
	treeGlyphs      = []string{"├", "└", "│"}
)

// DetectType classifies text using the ordered checks from spec §4.2: JSON,
// then TS/JS, then HTML/XML, then codebase-tree, else generic.
func DetectType(text string) ContentType {
	trimmed := strings.TrimSpace(text)
	if looksLikeJSON(trimmed) {
		return ContentJSON
	}
	if jsTSIndicatorRe.MatchString(text) {
		return ContentJSTS
	}
	if strings.HasPrefix(trimmed, "<") {
		return ContentHTML
	}
	for _, g := range treeGlyphs {
		if strings.Contains(text, g) {
			return ContentTree
		}
	}
	return ContentGeneric
}

func looksLikeJSON(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	if !balancedBraces(trimmed) {
		return false
	}
	return json.Valid([]byte(trimmed))
}

func balancedBraces(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// --- JSON strategy -----------------------------------------------------

var jsonDenylist = map[string]bool{
	"debug": true, "trace": true, "verbose": true, "metadata": true,
	"stats": true, "cache": true, "logs": true, "history": true,
	"temp": true, "tmp": true, "deprecated": true, "_id": true, "timestamp": true,
}

const maxLeafStringLen = 1000
const arrayKeepCount = 10

func truncateJSON(text string, maxBytes int) Result {
	fix := jsonrepair.ValidateAndFix(text)
	working := fix.Fixed

	var value interface{}
	if err := json.Unmarshal([]byte(working), &value); err != nil {
		return Result{Content: minimalJSONSkeleton(working), SyntaxValid: true, Method: "minimal-json"}
	}

	if enc, ok := tryEncode(value, maxBytes); ok {
		return Result{Content: enc, SyntaxValid: true, Method: "none"}
	}

	for attempt := 0; attempt < maxStrategyAttempts; attempt++ {
		value = truncateArrays(value, arrayKeepCount)
		if enc, ok := tryEncode(value, maxBytes); ok {
			return Result{Content: enc, SyntaxValid: true, Method: "array-truncation"}
		}
	}

	value = removeDenylistedProperties(value)
	if enc, ok := tryEncode(value, maxBytes); ok {
		return Result{Content: enc, SyntaxValid: true, Method: "property-removal"}
	}

	value = truncateLeafStrings(value, maxLeafStringLen)
	if enc, ok := tryEncode(value, maxBytes); ok {
		return Result{Content: enc, SyntaxValid: true, Method: "string-truncation"}
	}

	return Result{Content: minimalJSONSkeleton(working), SyntaxValid: true, Method: "minimal-json"}
}

func tryEncode(value interface{}, maxBytes int) (string, bool) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	if len(b) <= maxBytes {
		return string(b), true
	}
	return "", false
}

// truncateArrays recursively keeps the first keep elements of every array,
// appending a placeholder describing the elided count.
func truncateArrays(value interface{}, keep int) interface{} {
	switch v := value.(type) {
	case []interface{}:
		out := v
		if len(v) > keep {
			elided := len(v) - keep
			out = make([]interface{}, 0, keep+1)
			out = append(out, v[:keep]...)
			out = append(out, map[string]interface{}{"...elided": elided})
		}
		for i, item := range out {
			out[i] = truncateArrays(item, keep)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = truncateArrays(item, keep)
		}
		return out
	default:
		return value
	}
}

func removeDenylistedProperties(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{})
		for k, item := range v {
			if jsonDenylist[strings.ToLower(k)] {
				continue
			}
			out[k] = removeDenylistedProperties(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = removeDenylistedProperties(item)
		}
		return out
	default:
		return value
	}
}

func truncateLeafStrings(value interface{}, maxLen int) interface{} {
	switch v := value.(type) {
	case string:
		if len(v) > maxLen {
			return v[:maxLen] + "…[truncated]"
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = truncateLeafStrings(item, maxLen)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = truncateLeafStrings(item, maxLen)
		}
		return out
	default:
		return value
	}
}

// minimalJSONSkeleton preserves the first three important (non-denylisted)
// keys of a top-level object plus an ellipsis marker; falls back to the
// jsonrepair skeleton for non-object roots.
func minimalJSONSkeleton(working string) string {
	var value interface{}
	if err := json.Unmarshal([]byte(working), &value); err != nil {
		return `{"error":"unparseable","data":"<truncated>"}`
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return `{"error":"unparseable","data":"<truncated>"}`
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if !jsonDenylist[strings.ToLower(k)] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 3 {
		keys = keys[:3]
	}
	out := make(map[string]interface{}, len(keys)+1)
	for _, k := range keys {
		out[k] = obj[k]
	}
	out["_truncated"] = true
	b, err := json.Marshal(out)
	if err != nil {
		return `{"error":"unparseable","data":"<truncated>"}`
	}
	return string(b)
}

// --- JS/TS strategy ------------------------------------------------------

var topLevelDeclRe = regexp.MustCompile(`(?m)^(export\s+default\s+|export\s+)?(class|function|interface|type|const)\s+(\w+)`)
var importRe = regexp.MustCompile(`(?m)^import\s.*$`)

type jsBlock struct {
	kind       string
	name       string
	startLine  int
	endLine    int
	text       string
	importance int
	exported   bool
	isDefault  bool
}

func truncateJSTS(text string, maxBytes int) Result {
	imports := importRe.FindAllString(text, -1)

	matches := topLevelDeclRe.FindAllStringSubmatchIndex(text, -1)
	blocks := make([]jsBlock, 0, len(matches))
	for i, m := range matches {
		start := m[0]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		startLine := strings.Count(text[:start], "\n") + 1
		endLine := strings.Count(text[:end], "\n") + 1
		exportedPrefix := ""
		if m[2] >= 0 {
			exportedPrefix = text[m[2]:m[3]]
		}
		kind := text[m[4]:m[5]]
		name := text[m[6]:m[7]]
		isDefault := strings.Contains(exportedPrefix, "default")
		exported := strings.Contains(exportedPrefix, "export")
		blocks = append(blocks, jsBlock{
			kind: kind, name: name, startLine: startLine, endLine: endLine,
			text: text[start:end], exported: exported, isDefault: isDefault,
			importance: jsImportance(kind, exported, isDefault),
		})
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].importance > blocks[j].importance })

	var b strings.Builder
	importBudget := int(float64(maxBytes) * 0.10)
	importBytes := 0
	for _, imp := range imports {
		if importBytes+len(imp)+1 > importBudget {
			break
		}
		b.WriteString(imp)
		b.WriteByte('\n')
		importBytes += len(imp) + 1
	}

	for _, blk := range blocks {
		stub := "// " + strings.ToUpper(blk.kind) + ": lines " + strconv.Itoa(blk.startLine) + "–" + strconv.Itoa(blk.endLine) + "\n"
		if b.Len()+len(stub) > maxBytes-len("// [TRUNCATED]\n") {
			break
		}
		b.WriteString(stub)
	}
	b.WriteString("// [TRUNCATED]")

	out := b.String()
	if len(out) > maxBytes {
		out = out[:maxBytes]
	}
	return Result{Content: out, SyntaxValid: true, Method: "jsts-stub"}
}

func jsImportance(kind string, exported, isDefault bool) int {
	switch {
	case isDefault:
		return 90
	case exported:
		return 80
	case kind == "class" || kind == "interface":
		return 60
	case kind == "function":
		return 50
	case kind == "const":
		return 40
	default:
		return 10
	}
}

// --- codebase-tree strategy ------------------------------------------------

const maxTreeDepths = 5

func truncateTree(text string, maxBytes int) Result {
	lines := strings.Split(text, "\n")
	depthOf := func(line string) int {
		d := 0
		for _, g := range treeGlyphs {
			d += strings.Count(line, g)
		}
		if d > maxTreeDepths-1 {
			d = maxTreeDepths - 1
		}
		return d
	}

	byDepth := make(map[int][]int) // depth -> line indices
	for i, l := range lines {
		d := depthOf(l)
		byDepth[d] = append(byDepth[d], i)
	}

	// More quota at shallower depths.
	quotas := map[int]int{0: 400, 1: 250, 2: 150, 3: 80, 4: 40}
	keep := make(map[int]bool)
	budgetBytes := maxBytes - len("\n...[truncated]")
	usedBytes := 0

	for depth := 0; depth < maxTreeDepths; depth++ {
		idxs := byDepth[depth]
		quota := quotas[depth]
		if quota > len(idxs) {
			quota = len(idxs)
		}
		step := 1
		if quota > 0 {
			step = len(idxs) / quota
			if step < 1 {
				step = 1
			}
		}
		count := 0
		for i := 0; i < len(idxs) && count < quota; i += step {
			lineLen := len(lines[idxs[i]]) + 1
			if usedBytes+lineLen > budgetBytes {
				break
			}
			keep[idxs[i]] = true
			usedBytes += lineLen
			count++
		}
	}

	var b strings.Builder
	for i, l := range lines {
		if keep[i] {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	b.WriteString("...[truncated]")
	out := b.String()
	if len(out) > maxBytes {
		out = out[:maxBytes]
	}
	return Result{Content: out, SyntaxValid: true, Method: "tree-sampling"}
}

// --- generic strategy ------------------------------------------------------

func truncateGeneric(text string, maxBytes int) Result {
	marker := "\n...[truncated]...\n"
	headBudget := int(float64(maxBytes) * 0.40)
	tailBudget := int(float64(maxBytes) * 0.40)
	if headBudget+tailBudget+len(marker) > maxBytes {
		headBudget = (maxBytes - len(marker)) / 2
		tailBudget = maxBytes - len(marker) - headBudget
	}

	head := headLines(text, headBudget)
	tail := tailLines(text, tailBudget)

	out := head + marker + tail
	if len(out) > maxBytes {
		out = out[:maxBytes]
	}
	return Result{Content: out, SyntaxValid: false, Method: "head-tail"}
}

func headLines(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	var b strings.Builder
	for _, l := range lines {
		if b.Len()+len(l)+1 > budget {
			break
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func tailLines(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	var kept []string
	used := 0
	for i := len(lines) - 1; i >= 0; i-- {
		l := lines[i]
		if used+len(l)+1 > budget {
			break
		}
		kept = append([]string{l}, kept...)
		used += len(l) + 1
	}
	return strings.Join(kept, "\n")
}
