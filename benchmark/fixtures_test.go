package benchmark_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
	"github.com/MegaGrindStone/go-mcp-bench/mcp"
)

func TestDefaultFixtures(t *testing.T) {
	fixtures := benchmark.DefaultFixtures()
	require.Len(t, fixtures, 7)
	assert.JSONEq(t, `{"query":"s1001"}`, string(fixtures["get_student_grades"]))
	assert.JSONEq(t, `{}`, string(fixtures["get_events"]))

	for name, args := range fixtures {
		var obj map[string]any
		assert.NoError(t, json.Unmarshal(args, &obj), name)
	}
}

func TestLoadFixtures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    benchmark.Fixtures
		wantErr bool
	}{
		{
			name:    "objects",
			content: `{"search": {"q": "go"}, "ping": {}}`,
			want: benchmark.Fixtures{
				"search": json.RawMessage(`{"q": "go"}`),
				"ping":   json.RawMessage(`{}`),
			},
		},
		{
			name:    "arguments not an object",
			content: `{"search": ["go"]}`,
			wantErr: true,
		},
		{
			name:    "null arguments",
			content: `{"search": null}`,
			wantErr: true,
		},
		{
			name:    "invalid JSON",
			content: `{"search":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fixtures.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			got, err := benchmark.LoadFixtures(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for name, args := range tt.want {
				assert.JSONEq(t, string(args), string(got[name]))
			}
		})
	}

	_, err := benchmark.LoadFixtures(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPlanTools(t *testing.T) {
	tools := []mcp.Tool{
		{Name: "get_events"},
		{Name: "delete_student"},
		{Name: "get_professor_info"},
		{Name: "get_schedule"},
	}

	tests := []struct {
		name        string
		include     []string
		wantPlanned []string
		wantSkipped map[string]string
		wantErr     bool
	}{
		{
			name:        "every tool with a fixture",
			wantPlanned: []string{"get_events", "get_professor_info", "get_schedule"},
			wantSkipped: map[string]string{"delete_student": benchmark.SkipNoFixture},
		},
		{
			name:        "include patterns",
			include:     []string{"get_prof*", "*_events"},
			wantPlanned: []string{"get_events", "get_professor_info"},
			wantSkipped: map[string]string{
				"delete_student": benchmark.SkipNotIncluded,
				"get_schedule":   benchmark.SkipNotIncluded,
			},
		},
		{
			name:        "included without fixture",
			include:     []string{"delete_*"},
			wantPlanned: nil,
			wantSkipped: map[string]string{
				"get_events":         benchmark.SkipNotIncluded,
				"delete_student":     benchmark.SkipNoFixture,
				"get_professor_info": benchmark.SkipNotIncluded,
				"get_schedule":       benchmark.SkipNotIncluded,
			},
		},
		{
			name:    "invalid pattern",
			include: []string{"get_[events"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planned, skipped, err := benchmark.PlanTools(tools, benchmark.DefaultFixtures(), tt.include)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var names []string
			for _, p := range planned {
				names = append(names, p.Name)
				assert.NotEmpty(t, p.Args)
			}
			assert.Equal(t, tt.wantPlanned, names)

			gotSkipped := make(map[string]string, len(skipped))
			for _, s := range skipped {
				gotSkipped[s.Name] = s.Reason
			}
			assert.Equal(t, tt.wantSkipped, gotSkipped)
		})
	}
}
