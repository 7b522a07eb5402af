package benchmark

import (
	"encoding/json"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/MegaGrindStone/go-mcp-bench/mcp"
)

// Fixtures maps a tool name to the sample arguments the stress phase calls it with. Tools
// without a fixture are skipped.
type Fixtures map[string]json.RawMessage

// DefaultFixtures returns the arguments for the tools of the university demo server.
func DefaultFixtures() Fixtures {
	return Fixtures{
		"get_student_grades":       json.RawMessage(`{"query":"s1001"}`),
		"get_schedule":             json.RawMessage(`{"course_name":"Wirtschaftsinformatik"}`),
		"get_all_professors":       json.RawMessage(`{}`),
		"get_professor_for_module": json.RawMessage(`{"module_name":"Web Engineering"}`),
		"get_professor_info":       json.RawMessage(`{"prof_name":"Harsh"}`),
		"get_events":               json.RawMessage(`{}`),
		"query_academic_data":      json.RawMessage(`{"student_name":"Student One"}`),
	}
}

// LoadFixtures reads fixtures from a JSON file holding an object of tool name to
// arguments object.
func LoadFixtures(path string) (Fixtures, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read fixtures")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bs, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to decode fixtures %s", path)
	}

	fixtures := make(Fixtures, len(raw))
	for name, args := range raw {
		var obj map[string]any
		if err := json.Unmarshal(args, &obj); err != nil || obj == nil {
			return nil, errors.Errorf("fixture %s in %s: arguments must be a JSON object", name, path)
		}
		fixtures[name] = args
	}
	return fixtures, nil
}

// PlannedTool is a discovered tool selected for the stress phase.
type PlannedTool struct {
	Name string
	Args json.RawMessage
}

// SkippedTool is a discovered tool left out of the stress phase.
type SkippedTool struct {
	Name   string
	Reason string
}

// Skip reasons.
const (
	SkipNoFixture   = "no sample arguments defined"
	SkipNotIncluded = "not matched by the include patterns"
)

// PlanTools selects, in discovery order, the tools that have a fixture and match at least
// one of the include patterns (doublestar syntax). No patterns select every tool.
func PlanTools(tools []mcp.Tool, fixtures Fixtures, include []string) ([]PlannedTool, []SkippedTool, error) {
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, nil, errors.Errorf("invalid include pattern %q", pattern)
		}
	}

	var (
		planned []PlannedTool
		skipped []SkippedTool
	)
	for _, tool := range tools {
		if !included(tool.Name, include) {
			skipped = append(skipped, SkippedTool{Name: tool.Name, Reason: SkipNotIncluded})
			continue
		}
		args, ok := fixtures[tool.Name]
		if !ok {
			skipped = append(skipped, SkippedTool{Name: tool.Name, Reason: SkipNoFixture})
			continue
		}
		planned = append(planned, PlannedTool{Name: tool.Name, Args: args})
	}
	return planned, skipped, nil
}

func included(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		// Patterns were validated, Match can't fail.
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
