// Package contextmgr implements the intelligent context manager (C9): it
// rewrites a conversation's message list before each LLM call according to
// memory pressure, summarizing older turns via the criticality analyzer
// while preserving essentials and the leading system message.
package contextmgr

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/solstice-labs/agentmem/config"
	"github.com/solstice-labs/agentmem/metrics"
	"github.com/solstice-labs/agentmem/toolcriticality"
	"github.com/solstice-labs/agentmem/types"
)

var tracer = otel.Tracer("agentmem/contextmgr")

// Provider names a target LLM API surface whose formatting constraints
// Adapt must respect (spec §4.8).
type Provider string

const (
	ProviderA Provider = "provider-a"
	ProviderB Provider = "provider-b"
	ProviderC Provider = "provider-c"
)

// providerRules describes one provider's system-message/summary-role
// constraints.
type providerRules struct {
	systemFirstRequired bool
	multipleSystems     bool
	summaryRole         types.Kind
	maxContextLength    int // informational only; no hard truncation here
}

func rulesFor(p Provider) providerRules {
	switch p {
	case ProviderC:
		return providerRules{systemFirstRequired: true, multipleSystems: true, summaryRole: types.KindSystem, maxContextLength: 200_000}
	case ProviderB:
		return providerRules{systemFirstRequired: true, multipleSystems: false, summaryRole: types.KindHuman, maxContextLength: 128_000}
	default: // ProviderA
		return providerRules{systemFirstRequired: true, multipleSystems: false, summaryRole: types.KindHuman, maxContextLength: 200_000}
	}
}

// Summary is the synthesized ContextSummary message's structured payload,
// carried in the emitted message's metadata-equivalent fields for callers
// that want the counts without re-parsing the text.
type Summary struct {
	FoldedCount    int
	Decisions      []string
	ErrorsResolved []string
	Progress       []string
	EssentialCount int
	ImportantCount int
	RoutineCount   int
}

var (
	decisionPattern = regexp.MustCompile(`(?i)\b(decided to|decision:|we will|going with)\b[^\n.]{0,160}`)
	errorPattern    = regexp.MustCompile(`(?i)\b(fixed|resolved|error:)\b[^\n.]{0,160}`)
	progressPattern = regexp.MustCompile(`(?i)\b(completed|done:|progress:|implemented)\b[^\n.]{0,160}`)
)

const extractionCap = 10

// Adapt rewrites messages for provider under the given memory pressure
// ratio rho (heap-used / estimated heap-max), per the spec §4.8 pressure
// table. It always returns a list starting with the original system
// message, if one was present.
func Adapt(ctx context.Context, messages []types.Message, rho float64, provider Provider, tables toolcriticality.Tables) ([]types.Message, error) {
	_, span := tracer.Start(ctx, "contextmgr.adapt")
	defer span.End()

	start := time.Now()
	defer func() { metrics.ObserveContextAdaptDuration(string(provider), time.Since(start).Seconds()) }()

	rules := rulesFor(provider)

	if rho < 0.60 {
		return formatForProvider(messages, rules), nil
	}

	emergency := rho >= 0.90
	out, err := summarize(messages, keepRatio(rho), emergency, tables, rules)
	if err != nil {
		return nil, err
	}

	if len(out) >= len(messages) {
		// Validation failed: not strictly shorter. Fall back to emergency.
		out, err = summarize(messages, keepRatio(0.95), true, tables, rules)
		if err != nil {
			return nil, err
		}
	}

	return formatForProvider(out, rules), nil
}

// keepRatio maps pressure ratio rho to the fraction of "recent" messages
// retained verbatim, looked up from config's fixed five-band pressure
// table (spec §4.8) so an operator-tuned KeepRatio override takes effect
// without touching this logic.
func keepRatio(rho float64) float64 {
	bands := config.DefaultPressureTable()
	for _, b := range bands {
		if rho >= b.MinRho && rho < b.MaxRho {
			return b.KeepRatio
		}
	}
	return bands[len(bands)-1].KeepRatio
}

// summarize implements the spec §4.8 summarization procedure. emergency
// gates the "system, summary, last 3 non-system" cap — it must reflect
// the originating pressure ratio rho, not the already-converted keep
// ratio (whose emergency-band value, per config.DefaultPressureTable, is
// 0.20, never 0.90+).
func summarize(messages []types.Message, keep float64, emergency bool, tables toolcriticality.Tables, rules providerRules) ([]types.Message, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	var system *types.Message
	rest := messages
	if messages[0].Kind == types.KindSystem {
		sys := messages[0]
		system = &sys
		rest = messages[1:]
	}

	k := int(float64(len(rest)) * keep)
	if k > len(rest) {
		k = len(rest)
	}
	if emergency && k > 3 {
		// Emergency band: at most ~3 non-system recent messages (spec
		// §4.8: "keep only system, summary, last 3 non-system").
		k = 3
	}

	old := rest
	recent := rest[len(rest):]
	if k < len(rest) {
		old = rest[:len(rest)-k]
		recent = rest[len(rest)-k:]
	} else {
		old = nil
	}

	analysis := toolcriticality.Analyze(old, tables)

	var out []types.Message
	if system != nil {
		out = append(out, *system)
	}

	for _, ref := range analysis.Essential {
		out = append(out, old[ref.MessageIndex])
	}

	if len(old) > len(analysis.Essential) {
		summaryMsg := buildSummary(old, analysis, rules)
		out = append(out, summaryMsg)
	}

	out = append(out, recent...)
	return out, nil
}

func buildSummary(old []types.Message, analysis toolcriticality.Result, rules providerRules) types.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Context summary: %d older messages folded (%d essential, %d important, %d routine tool calls).\n",
		len(old), len(analysis.Essential), len(analysis.Important), len(analysis.Routine))

	if len(analysis.Important) > 0 {
		b.WriteString("\nImportant tool calls:\n")
		for _, ref := range analysis.Important {
			fmt.Fprintf(&b, "- %s\n", ref.Analysis.Summary)
		}
	}
	if len(analysis.Routine) > 0 {
		b.WriteString("\nRoutine tool calls:\n")
		for _, ref := range analysis.Routine {
			fmt.Fprintf(&b, "- %s → %s\n", ref.Name, ref.Path)
		}
	}

	var allText strings.Builder
	for _, m := range old {
		allText.WriteString(m.Text())
		allText.WriteString("\n")
	}
	text := allText.String()

	decisions := capMatches(decisionPattern.FindAllString(text, -1), extractionCap)
	errs := capMatches(errorPattern.FindAllString(text, -1), extractionCap)
	progress := capMatches(progressPattern.FindAllString(text, -1), extractionCap)

	writeSection(&b, "Decisions", decisions)
	writeSection(&b, "Errors resolved", errs)
	writeSection(&b, "Progress", progress)

	return types.Message{Kind: rules.summaryRole, Content: b.String()}
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", strings.TrimSpace(item))
	}
}

func capMatches(matches []string, n int) []string {
	if len(matches) > n {
		return matches[:n]
	}
	return matches
}

// formatForProvider enforces provider placement rules: a single
// system-first message (collapsing extras when the provider disallows
// multiples) per spec §4.8's provider table.
func formatForProvider(messages []types.Message, rules providerRules) []types.Message {
	if len(messages) == 0 {
		return messages
	}

	var systemMsgs []types.Message
	var rest []types.Message
	for _, m := range messages {
		if m.Kind == types.KindSystem {
			systemMsgs = append(systemMsgs, m)
		} else {
			rest = append(rest, m)
		}
	}

	if len(systemMsgs) == 0 {
		return messages
	}

	var out []types.Message
	if rules.multipleSystems {
		out = append(out, systemMsgs...)
	} else {
		merged := systemMsgs[0]
		for _, extra := range systemMsgs[1:] {
			merged.Content = merged.Content + "\n" + extra.Content
		}
		out = append(out, merged)
	}
	out = append(out, rest...)
	return out
}
