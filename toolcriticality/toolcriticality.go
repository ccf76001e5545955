// Package toolcriticality implements the tool-call criticality analyzer
// (C8): a deterministic, side-effect-free classifier that buckets each
// tool call a conversation carries into ESSENTIAL/IMPORTANT/ROUTINE tiers
// using regex tables configured as data rather than hardcoded in logic.
package toolcriticality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/solstice-labs/agentmem/types"
)

// Rule is one classification rule: if any of its patterns match the
// tool-call's path or (uppercased) content, the call is classified with
// Criticality at Confidence.
type Rule struct {
	Name           string
	Criticality    types.Criticality
	Confidence     float64
	PathPattern    *regexp.Regexp
	ContentPattern *regexp.Regexp
}

// Tables holds the classification rule sets as data, so callers can tune
// or replace them without touching classification logic. ArgSchemas and
// Validator are both optional: when either is nil, argument validation is
// skipped and every Ref is reported ArgsValid.
type Tables struct {
	Essential []Rule
	Important []Rule

	// ArgSchemas maps a tool name to its registered JSON Schema (as raw
	// JSON text). A tool with no entry is not validated.
	ArgSchemas map[string]string
	Validator  *ArgSchemaValidator
}

// DefaultTables returns the spec §4.7 classification rules.
func DefaultTables() Tables {
	return Tables{
		Essential: []Rule{
			{Name: "config-file", Criticality: types.CriticalityEssential, Confidence: 0.95,
				PathPattern: regexp.MustCompile(`(?i)(config|\.env|tsconfig|package\.json|dockerfile|webpack|\.ya?ml)`)},
			{Name: "secrets-env", Criticality: types.CriticalityEssential, Confidence: 0.95,
				ContentPattern: regexp.MustCompile(`(API_KEY|SECRET|TOKEN|DATABASE_URL|JWT_SECRET|PRIVATE_KEY|PASSWORD)`)},
			{Name: "database-config", Criticality: types.CriticalityEssential, Confidence: 0.92,
				PathPattern: regexp.MustCompile(`(?i)(database|db[_-]?config|migrations?/|schema\.sql)`)},
			{Name: "auth-code", Criticality: types.CriticalityEssential, Confidence: 0.92,
				PathPattern: regexp.MustCompile(`(?i)(auth|login|session|permission|rbac|jwt)`)},
			{Name: "api-routes", Criticality: types.CriticalityEssential, Confidence: 0.90,
				PathPattern: regexp.MustCompile(`(?i)(routes?/|middleware|api/)`)},
			{Name: "build-deploy", Criticality: types.CriticalityEssential, Confidence: 0.90,
				PathPattern: regexp.MustCompile(`(?i)(\.github/workflows|ci\.ya?ml|deploy|terraform|\.tf$|helm/)`)},
		},
		Important: []Rule{
			{Name: "business-logic", Criticality: types.CriticalityImportant, Confidence: 0.75,
				PathPattern: regexp.MustCompile(`(?i)(service|controller|manager|handler|processor|validator)`)},
			{Name: "stateful-ui-component", Criticality: types.CriticalityImportant, Confidence: 0.70,
				PathPattern: regexp.MustCompile(`(?i)\.(tsx|jsx)$`),
				ContentPattern: regexp.MustCompile(`(useState|useReducer|useEffect|this\.state)`)},
			{Name: "data-model", Criticality: types.CriticalityImportant, Confidence: 0.75,
				ContentPattern: regexp.MustCompile(`\b(type|interface|enum|class)\s+\w+`)},
			{Name: "reusable-utility", Criticality: types.CriticalityImportant, Confidence: 0.65,
				PathPattern: regexp.MustCompile(`(?i)(utils?/|helpers?/|lib/)`)},
		},
	}
}

var (
	functionPattern = regexp.MustCompile(`\bfunc\s+(\w+)|\bfunction\s+(\w+)`)
	typePattern     = regexp.MustCompile(`\btype\s+(\w+)|\binterface\s+(\w+)|\bclass\s+(\w+)`)
	exportPattern   = regexp.MustCompile(`\bexport\s+(?:default\s+)?(?:function|class|const|interface|type)\s+(\w+)`)
)

const (
	topFunctions = 8
	topTypes     = 6
	topExports   = 10
)

// Ref points back at the analyzed tool-call's source message.
type Ref struct {
	MessageIndex int
	ToolCallID   string
	Name         string
	Path         string
	Analysis     types.Analysis
}

// Result is C8's output: tool calls bucketed by criticality.
type Result struct {
	Essential    []Ref
	Important    []Ref
	Routine      []Ref
	TotalAnalyzed int
}

// Analyze classifies every tool call carried by messages, in order.
// Classification is a pure function of each call's path/content: given
// identical input it always yields identical output (spec §4.7 invariant).
func Analyze(messages []types.Message, tables Tables) Result {
	var res Result
	for mi, m := range messages {
		for _, tc := range m.ToolCalls {
			ref := classify(mi, tc, tables)
			res.TotalAnalyzed++
			switch ref.Analysis.Criticality {
			case types.CriticalityEssential:
				res.Essential = append(res.Essential, ref)
			case types.CriticalityImportant:
				res.Important = append(res.Important, ref)
			default:
				res.Routine = append(res.Routine, ref)
			}
		}
	}
	return res
}

func classify(messageIndex int, tc types.ToolCall, tables Tables) Ref {
	upperContent := strings.ToUpper(tc.Content)
	argsValid := validateArgs(tc, tables)

	for _, rule := range tables.Essential {
		if ruleMatches(rule, tc.Path, upperContent) {
			analysis := types.Analysis{
				Criticality: types.CriticalityEssential, Reason: rule.Name,
				Confidence: rule.Confidence, PreserveFullContent: true, ArgsValid: argsValid,
			}
			return Ref{
				MessageIndex: messageIndex, ToolCallID: tc.ID, Name: tc.Name, Path: tc.Path,
				Analysis: analysis,
			}
		}
	}

	for _, rule := range tables.Important {
		if ruleMatches(rule, tc.Path, upperContent) {
			analysis := extractionAnalysis(tc, types.CriticalityImportant, rule.Name, rule.Confidence)
			analysis.ArgsValid = argsValid
			return Ref{
				MessageIndex: messageIndex, ToolCallID: tc.ID, Name: tc.Name, Path: tc.Path,
				Analysis: analysis,
			}
		}
	}

	analysis := extractionAnalysis(tc, types.CriticalityRoutine, "no rule matched", 0.60)
	analysis.ArgsValid = argsValid
	return Ref{
		MessageIndex: messageIndex, ToolCallID: tc.ID, Name: tc.Name, Path: tc.Path,
		Analysis: analysis,
	}
}

// validateArgs checks tc.Arguments against tables' registered schema for
// tc.Name, if both a validator and a schema are configured. Classification
// proceeds regardless of the outcome (spec §4.7: validation informs the
// analysis, it never blocks it); the result is surfaced via
// Analysis.ArgsValid so callers can treat malformed calls with suspicion.
func validateArgs(tc types.ToolCall, tables Tables) bool {
	if tables.Validator == nil || tables.ArgSchemas == nil {
		return true
	}
	schema, ok := tables.ArgSchemas[tc.Name]
	if !ok {
		return true
	}
	argsJSON, err := json.Marshal(tc.Arguments)
	if err != nil {
		return false
	}
	return tables.Validator.Validate(schema, argsJSON) == nil
}

func ruleMatches(rule Rule, path, upperContent string) bool {
	if rule.PathPattern != nil && rule.PathPattern.MatchString(path) {
		return true
	}
	if rule.ContentPattern != nil && rule.ContentPattern.MatchString(upperContent) {
		return true
	}
	return false
}

// extractionAnalysis builds the secondary extraction (summary + key
// elements) for IMPORTANT/ROUTINE calls per spec §4.7.
func extractionAnalysis(tc types.ToolCall, crit types.Criticality, reason string, confidence float64) types.Analysis {
	functions := topMatches(functionPattern, tc.Content, topFunctions)
	types_ := topMatches(typePattern, tc.Content, topTypes)
	exports := topMatches(exportPattern, tc.Content, topExports)

	summary := fmt.Sprintf("%s → %s | Functions:%v | Types:%v | Exports:%v", tc.Name, tc.Path, functions, types_, exports)

	return types.Analysis{
		Criticality: crit,
		Reason:      reason,
		Confidence:  confidence,
		Summary:     summary,
		Functions:   functions,
		Types:       types_,
		Exports:     exports,
	}
}

// topMatches returns up to n distinct regex captures (first non-empty
// group per match), preserving first-seen order.
func topMatches(pattern *regexp.Regexp, content string, n int) []string {
	matches := pattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		name := firstNonEmpty(m[1:])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
		if len(out) >= n {
			break
		}
	}
	return out
}

func firstNonEmpty(groups []string) string {
	for _, g := range groups {
		if g != "" {
			return g
		}
	}
	return ""
}

// ArgSchemaValidator validates tool-call arguments against a JSON schema,
// caching compiled schemas by their source text so repeated calls with the
// same declared schema skip recompilation.
type ArgSchemaValidator struct {
	cache map[string]*gojsonschema.Schema
}

// NewArgSchemaValidator creates an empty validator.
func NewArgSchemaValidator() *ArgSchemaValidator {
	return &ArgSchemaValidator{cache: make(map[string]*gojsonschema.Schema)}
}

// Validate checks args (as a JSON document) against schemaJSON.
func (v *ArgSchemaValidator) Validate(schemaJSON string, args []byte) error {
	schema, err := v.getSchema(schemaJSON)
	if err != nil {
		return fmt.Errorf("toolcriticality: invalid arg schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("toolcriticality: schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			msgs[i] = e.String()
		}
		return fmt.Errorf("toolcriticality: arguments invalid: %v", msgs)
	}
	return nil
}

func (v *ArgSchemaValidator) getSchema(schemaJSON string) (*gojsonschema.Schema, error) {
	if s, ok := v.cache[schemaJSON]; ok {
		return s, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, err
	}
	v.cache[schemaJSON] = schema
	return schema, nil
}
