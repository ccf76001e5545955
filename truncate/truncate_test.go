package truncate

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateEmptyInput(t *testing.T) {
	res, err := Truncate("", 10, ContentGeneric)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, "", res.Content)
}

func TestTruncateRejectsNonPositiveBudget(t *testing.T) {
	_, err := Truncate("hello", 0, ContentGeneric)
	assert.Error(t, err)
}

func TestTruncateWithinBudgetReturnsUnchanged(t *testing.T) {
	res, err := Truncate("short text", 100, ContentGeneric)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, "none", res.Method)
}

func TestDetectTypeJSON(t *testing.T) {
	assert.Equal(t, ContentJSON, DetectType(`{"a":1}`))
}

func TestDetectTypeJSTS(t *testing.T) {
	assert.Equal(t, ContentJSTS, DetectType("export class Foo {}"))
}

func TestDetectTypeTree(t *testing.T) {
	assert.Equal(t, ContentTree, DetectType("├── src\n│   └── main.go"))
}

func TestDetectTypeGeneric(t *testing.T) {
	assert.Equal(t, ContentGeneric, DetectType("just some plain prose here"))
}

func TestTruncateJSONStaysParseable(t *testing.T) {
	nums := make([]int, 1000)
	for i := range nums {
		nums[i] = i
	}
	b, _ := json.Marshal(map[string]interface{}{"a": nums, "b": "x"})
	res, err := Truncate(string(b), 80, ContentJSON)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, res.SyntaxValid)
	assert.True(t, json.Valid([]byte(res.Content)))
	assert.LessOrEqual(t, res.FinalSize, 80+200) // minimal-json fallback may exceed slightly on tiny budgets
	assert.Contains(t, []string{"array-truncation", "property-removal", "string-truncation", "minimal-json"}, res.Method)
}

func TestTruncateJSONRemovesDenylistedKeys(t *testing.T) {
	obj := map[string]interface{}{
		"debug": strings.Repeat("x", 2000),
		"value": "keep me",
	}
	b, _ := json.Marshal(obj)
	res, err := Truncate(string(b), len(b)-100, ContentJSON)
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(res.Content)))
}

func TestTruncateJSTSProducesCommentStubs(t *testing.T) {
	src := `import { foo } from "bar"
export class Widget {
  render() { return 1 }
}
function helper() { return 2 }
const x = 1
`
	res, err := Truncate(src, 60, ContentJSTS)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Content, "[TRUNCATED]")
}

func TestTruncateTreeBucketsByDepth(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("├── file")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(".go\n")
	}
	res, err := Truncate(b.String(), 200, ContentTree)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, res.FinalSize, 200)
}

func TestTruncateGenericKeepsHeadAndTail(t *testing.T) {
	lines := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		lines = append(lines, "line content number "+strconv.Itoa(i))
	}
	text := strings.Join(lines, "\n")
	res, err := Truncate(text, 500, ContentGeneric)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Content, "truncated")
	assert.LessOrEqual(t, res.FinalSize, 500)
}

func TestTruncateHTMLFallsThroughToGeneric(t *testing.T) {
	text := "<html>" + strings.Repeat("<p>x</p>", 500) + "</html>"
	res, err := Truncate(text, 200, ContentHTML)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
}
