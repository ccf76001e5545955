package types

import "github.com/solstice-labs/agentmem/internal/sizeutil"

// Criticality classifies how damaging the loss of a tool call's content
// would be to reconstructing agent behavior (spec §4.7).
type Criticality string

// Criticality tiers, ordered from most to least damaging to lose.
const (
	CriticalityEssential Criticality = "ESSENTIAL"
	CriticalityImportant Criticality = "IMPORTANT"
	CriticalityRoutine   Criticality = "ROUTINE"
)

// ToolCall is a single tool invocation attached to an assistant Message.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Path      string         `json:"path,omitempty"`
	Content   string         `json:"content,omitempty"` // new text, patch text, or command

	// Analysis is the cached result of a criticality analyzer pass. Nil
	// until toolcriticality.Analyze has run over the containing message.
	Analysis *Analysis `json:"analysis,omitempty"`
}

// Analysis is the cached, computed criticality verdict for a ToolCall.
type Analysis struct {
	Criticality        Criticality `json:"criticality"`
	Reason             string      `json:"reason"`
	Confidence         float64     `json:"confidence"`
	PreserveFullContent bool       `json:"preserve_full_content"`
	Summary            string      `json:"summary,omitempty"`
	Functions          []string    `json:"functions,omitempty"`
	Types              []string    `json:"types,omitempty"`
	Exports            []string    `json:"exports,omitempty"`

	// ArgsValid is false only when a registered JSON Schema for this
	// tool's arguments failed validation. True when no schema is
	// registered for the tool (nothing to validate against).
	ArgsValid bool `json:"args_valid"`
}

func (tc *ToolCall) byteSize() int {
	size := sizeutil.ByteLen(tc.Name) + sizeutil.ByteLen(tc.Path) + sizeutil.ByteLen(tc.Content) + sizeutil.ByteLen(tc.ID)
	for k, v := range tc.Arguments {
		size += sizeutil.ByteLen(k)
		if s, ok := v.(string); ok {
			size += sizeutil.ByteLen(s)
		} else {
			size += 8
		}
	}
	return size
}
