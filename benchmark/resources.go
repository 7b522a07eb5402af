package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/go-mcp-bench/mcp"
)

// ResourceType is a group of resources measured together: the resources of a template,
// or a single listed resource when the server offers no templates.
type ResourceType struct {
	Name string
	// Prefix selects the type's resources by URI prefix when Exact is false.
	Prefix string
	Exact  bool
}

// Matches reports whether the resource belongs to the type.
func (t ResourceType) Matches(uri string) bool {
	if t.Exact {
		return uri == t.Prefix
	}
	return strings.HasPrefix(uri, t.Prefix)
}

// ResourceTypes derives the resource types from the server's templates, or from the
// listed resources when there are none. Names are made unique.
func ResourceTypes(templates []mcp.ResourceTemplate, resources []mcp.Resource) []ResourceType {
	var types []ResourceType
	if len(templates) > 0 {
		for _, tmpl := range templates {
			prefix, _, _ := strings.Cut(tmpl.URITemplate, "{")
			types = append(types, ResourceType{Name: firstNonEmpty(tmpl.Name, tmpl.URITemplate), Prefix: prefix})
		}
	} else {
		for _, res := range resources {
			types = append(types, ResourceType{Name: firstNonEmpty(res.Name, res.URI), Prefix: res.URI, Exact: true})
		}
	}

	seen := make(map[string]int, len(types))
	for i, t := range types {
		seen[t.Name]++
		if n := seen[t.Name]; n > 1 {
			types[i].Name = fmt.Sprintf("%s (%d)", t.Name, n)
		}
	}
	return types
}

// BenchmarkResources measures every resource type: a timed list, then a timed sequential
// read of each of the type's items. Failed reads are counted and left out of the average.
// A failed list is recorded as an empty type. Only the initial discovery list is fatal.
func BenchmarkResources(
	ctx context.Context,
	sess Session,
	logger *slog.Logger,
	progress io.Writer,
) (map[string]ResourceBenchmark, error) {
	templates, err := sess.ListResourceTemplates(ctx)
	if err != nil {
		logger.Warn("failed to list resource templates, using resources as types", "err", err)
		templates = nil
	}

	all, err := sess.ListResources(ctx)
	if err != nil {
		return nil, newResourceError("list", "", err)
	}

	types := ResourceTypes(templates, all)
	fmt.Fprintf(progress, "Found %d resource types to benchmark.\n", len(types))

	results := make(map[string]ResourceBenchmark, len(types))
	for _, typ := range types {
		fmt.Fprintf(progress, "\nBenchmarking Resource: '%s'\n", typ.Name)
		results[typ.Name] = benchmarkResourceType(ctx, sess, typ, logger)
	}
	return results, nil
}

func benchmarkResourceType(ctx context.Context, sess Session, typ ResourceType, logger *slog.Logger) ResourceBenchmark {
	listed, listLatency, err := TimeOperation(ctx, sess.ListResources)
	if err != nil {
		logger.Error("failed to list resources", "type", typ.Name, "err", newResourceError("list", typ.Prefix, err))
		return ResourceBenchmark{}
	}

	var items []mcp.Resource
	for _, res := range listed {
		if typ.Matches(res.URI) {
			items = append(items, res)
		}
	}

	rb := ResourceBenchmark{
		ListLatencyMs: listLatency,
		ListItemCount: len(items),
	}

	var latencies []float64
	for _, item := range items {
		_, latency, err := TimeOperation(ctx, func(ctx context.Context) (mcp.ReadResourceResult, error) {
			return sess.ReadResource(ctx, item.URI)
		})
		if err != nil {
			rb.ReadErrors++
			logger.Warn("failed to read resource", "type", typ.Name, "err", newResourceError("read", item.URI, err))
			continue
		}
		latencies = append(latencies, latency)
	}
	rb.ReadAvgLatencyMs = Mean(latencies)

	return rb
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
