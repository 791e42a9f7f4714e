package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/M0Rf30/yap/v2/internal/graph"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/pkg/set"
)

// fakeResolver answers DebControl resolution from a static table keyed by
// source name, standing in for a real debian/control read.
type fakeResolver struct {
	bySource map[string][]graph.BinaryPackage
}

func (f *fakeResolver) Resolve(source manifest.SourcePackage) ([]graph.BinaryPackage, error) {
	return f.bySource[source.Name], nil
}

func buildTestGraph(t *testing.T, changed map[string]bool) *graph.Graph {
	t.Helper()

	sources := []manifest.SourcePackage{
		{Name: "libfoo", BatchPriority: 0},
		{Name: "app", BatchPriority: 0},
		{Name: "unrelated", BatchPriority: 0},
	}

	resolver := &fakeResolver{bySource: map[string][]graph.BinaryPackage{
		"libfoo": {{Name: "libfoo-dev", SourceName: "libfoo"}},
		"app":    {{Name: "app", SourceName: "app", BuildDepends: []string{"libfoo-dev"}}},
		"unrelated": {{Name: "unrelated", SourceName: "unrelated"}},
	}}

	hashChanged := func(source manifest.SourcePackage) bool {
		return changed[source.Name]
	}

	g, err := graph.Build(sources, resolver, hashChanged)
	require.NoError(t, err)

	return g
}

func TestBuildComputesTransitiveDependenciesAndChildren(t *testing.T) {
	g := buildTestGraph(t, map[string]bool{})

	app, ok := g.Node("app")
	require.True(t, ok)
	require.True(t, app.BuildTimeDependencies.Contains("libfoo"))

	libfoo, ok := g.Node("libfoo")
	require.True(t, ok)
	require.True(t, libfoo.Children.Contains("app"))
	require.False(t, libfoo.Children.Contains("unrelated"))
}

func TestPropagateChangesMarksDependentsOnly(t *testing.T) {
	g := buildTestGraph(t, map[string]bool{"libfoo": true})
	g.PropagateChanges()

	app, _ := g.Node("app")
	require.True(t, app.ParentChanged)
	require.True(t, app.Rebuild())

	unrelated, _ := g.Node("unrelated")
	require.False(t, unrelated.ParentChanged)
	require.False(t, unrelated.Rebuild())
}

func TestToBuildIncludesOnlyRebuildNodes(t *testing.T) {
	g := buildTestGraph(t, map[string]bool{"libfoo": true})
	g.PropagateChanges()

	names := map[string]bool{}
	for _, node := range g.ToBuild() {
		names[node.Source.Name] = true
	}

	require.True(t, names["libfoo"])
	require.True(t, names["app"])
	require.False(t, names["unrelated"])
}

func TestReadySetWithholdsDependentUntilDependencyBuilt(t *testing.T) {
	g := buildTestGraph(t, map[string]bool{"libfoo": true})
	g.PropagateChanges()

	toBuild := g.ToBuild()

	empty := set.NewSet()
	ready := g.ReadySet(toBuild, empty, empty)

	readyNames := map[string]bool{}
	for _, node := range ready {
		readyNames[node.Source.Name] = true
	}

	require.True(t, readyNames["libfoo"])
	require.False(t, readyNames["app"])

	built := set.NewSet()
	built.Add("libfoo")

	readyAfter := g.ReadySet(toBuild, built, empty)

	readyAfterNames := map[string]bool{}
	for _, node := range readyAfter {
		readyAfterNames[node.Source.Name] = true
	}

	require.True(t, readyAfterNames["app"])
}
