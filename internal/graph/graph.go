// Package graph builds the source-level dependency graph from manifest
// entries plus DebControl data, determines which sources need rebuilding,
// and exposes a topological ready-set iterator with batch-priority
// ordering. Nodes are held in a single arena-backed slice and referenced
// by index, so children-set mutation and the parent_changed fixpoint never
// walk live pointer cycles.
package graph

import (
	"sort"

	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/pkg/set"
)

// BinaryPackage is produced by DebControl: one binary a source package
// builds, with its own declared dependencies.
type BinaryPackage struct {
	Name         string
	SourceName   string
	BuildDepends []string
	InstallDeps  []string
}

// Node is one source package's computed graph state.
type Node struct {
	Source manifest.SourcePackage

	// Binaries is every BinaryPackage this source produces.
	Binaries []BinaryPackage

	// BuildDepends is the set of binary-package names this source
	// declares as build dependencies, plus the implicit set.
	BuildDepends *set.Set

	// BuildTimeDependencies is the transitive closure over the binary
	// package table, projected to producing source names, unioned with
	// explicit_deps.
	BuildTimeDependencies *set.Set

	// Children is the set of source names that depend on this source at
	// build time.
	Children *set.Set

	HashChanged   bool
	ParentChanged bool
}

// Rebuild reports whether this source must be rebuilt: HashChanged or
// ParentChanged.
func (n *Node) Rebuild() bool { return n.HashChanged || n.ParentChanged }

// ToBuildByConstraints reports whether every build_constraints entry on
// this source is satisfied by the current environment.
func (n *Node) ToBuildByConstraints() bool {
	return manifest.ConstraintsSatisfied(n.Source.BuildConstraints)
}

// Graph is the arena-backed dependency graph over every flattened source.
type Graph struct {
	nodes       []*Node
	indexByName map[string]int
}

// HashChangedLookup answers whether a source's checked-out tree differs
// from its last recorded build hash. Implemented in terms of the external
// git checkout helper and the pkghashes sidecar files; injected so Graph
// stays free of filesystem/VCS concerns.
type HashChangedLookup func(source manifest.SourcePackage) bool

// ControlResolver yields the DebControl-derived BinaryPackage list and
// build_depends set for one source. Implementations decide how to reach
// debian/control: direct read, opaque single-binary synthesis, or running
// depscmd inside a transient Overlay first.
type ControlResolver interface {
	Resolve(source manifest.SourcePackage) ([]BinaryPackage, error)
}

// Build constructs the graph: flattened sources, DebControl resolution,
// the binary lookup table, build_time_dependencies, children, and the
// hash_changed flags. It does not yet compute parent_changed; call
// PropagateChanges for that.
func Build(sources []manifest.SourcePackage, resolver ControlResolver, hashChanged HashChangedLookup) (*Graph, error) {
	graph := &Graph{indexByName: make(map[string]int, len(sources))}

	for _, source := range sources {
		node := &Node{
			Source:                source,
			BuildDepends:          set.NewSet(),
			BuildTimeDependencies: set.NewSet(),
			Children:              set.NewSet(),
		}

		graph.indexByName[source.Name] = len(graph.nodes)
		graph.nodes = append(graph.nodes, node)
	}

	binaryProducers := make(map[string]string) // binary name -> source name

	for _, node := range graph.nodes {
		binaries, err := resolver.Resolve(node.Source)
		if err != nil {
			return nil, err
		}

		node.Binaries = binaries

		for _, bin := range binaries {
			binaryProducers[bin.Name] = node.Source.Name

			for _, dep := range bin.BuildDepends {
				node.BuildDepends.Add(dep)
			}
		}

		for _, dep := range node.Source.AllExplicitDeps() {
			node.BuildDepends.Add(dep)
		}
	}

	for _, node := range graph.nodes {
		closure := transitiveClosure(node.BuildDepends, binaryProducers, graph.binariesBySource())
		for name := range iterate(closure) {
			node.BuildTimeDependencies.Add(name)
		}

		for _, dep := range node.Source.ExplicitDeps {
			node.BuildTimeDependencies.Add(dep)
		}
	}

	for _, node := range graph.nodes {
		for depSourceName := range iterate(node.BuildTimeDependencies) {
			if depIdx, ok := graph.indexByName[depSourceName]; ok {
				graph.nodes[depIdx].Children.Add(node.Source.Name)
			}
		}
	}

	for _, node := range graph.nodes {
		if node.Source.ResolvedSourceName() == "truenas" {
			node.HashChanged = true

			continue
		}

		node.HashChanged = hashChanged(node.Source)
	}

	return graph, nil
}

func (g *Graph) binariesBySource() map[string][]BinaryPackage {
	out := make(map[string][]BinaryPackage, len(g.nodes))
	for _, node := range g.nodes {
		out[node.Source.Name] = node.Binaries
	}

	return out
}

// transitiveClosure walks the binary-dependency graph starting from the
// names in start, following each reached binary's own BuildDepends,
// memoizing visited binaries to guard against cycles, and returns the set
// of producing source_names.
func transitiveClosure(
	start *set.Set, producers map[string]string, binariesBySource map[string][]BinaryPackage,
) *set.Set {
	result := set.NewSet()
	visitedBinaries := make(map[string]bool)

	var visit func(binaryName string)

	visit = func(binaryName string) {
		if visitedBinaries[binaryName] {
			return
		}

		visitedBinaries[binaryName] = true

		sourceName, ok := producers[binaryName]
		if !ok {
			return
		}

		result.Add(sourceName)

		for _, bin := range binariesBySource[sourceName] {
			for _, dep := range bin.BuildDepends {
				visit(dep)
			}
		}
	}

	for name := range iterate(start) {
		visit(name)
	}

	return result
}

// iterate drains a *set.Set's channel iterator into a for-range-friendly
// form without consuming it twice.
func iterate(s *set.Set) map[string]struct{} {
	out := make(map[string]struct{})
	for v := range s.Iter() {
		out[v] = struct{}{}
	}

	return out
}

// PropagateChanges computes parent_changed to a fixpoint: repeatedly, for
// every source with Rebuild() true, ParentChanged is set on every member of
// its transitive Children, until no flag flips in a full pass.
func (g *Graph) PropagateChanges() {
	for {
		changed := false

		for _, node := range g.nodes {
			if !node.Rebuild() {
				continue
			}

			for childName := range iterate(node.Children) {
				childIdx, ok := g.indexByName[childName]
				if !ok {
					continue
				}

				child := g.nodes[childIdx]
				if !child.ParentChanged {
					child.ParentChanged = true
					changed = true
				}
			}
		}

		if !changed {
			return
		}
	}
}

// ToBuild returns every node whose Rebuild() holds and whose
// ToBuildByConstraints() holds.
func (g *Graph) ToBuild() []*Node {
	var out []*Node

	for _, node := range g.nodes {
		if node.Rebuild() && node.ToBuildByConstraints() {
			out = append(out, node)
		}
	}

	return out
}

// Node looks up a node by source name.
func (g *Graph) Node(name string) (*Node, bool) {
	idx, ok := g.indexByName[name]
	if !ok {
		return nil, false
	}

	return g.nodes[idx], true
}

// ReadySet computes the subgraph restricted to toBuild that is not yet in
// built or inProgress and whose dependencies are satisfied: every
// transitive dependency that is itself a member of toBuild must already be
// in built. A dependency outside toBuild is stable (no rebuild needed) and
// so is trivially satisfied.
func (g *Graph) ReadySet(toBuild []*Node, built, inProgress *set.Set) []*Node {
	builtNames := iterate(built)
	inProgressNames := iterate(inProgress)

	toBuildNames := make(map[string]struct{}, len(toBuild))
	for _, node := range toBuild {
		toBuildNames[node.Source.Name] = struct{}{}
	}

	var ready []*Node

	for _, node := range toBuild {
		name := node.Source.Name
		if _, done := builtNames[name]; done {
			continue
		}

		if _, running := inProgressNames[name]; running {
			continue
		}

		if dependenciesSatisfied(node, toBuildNames, builtNames) {
			ready = append(ready, node)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Source.BatchPriority != ready[j].Source.BatchPriority {
			return ready[i].Source.BatchPriority < ready[j].Source.BatchPriority
		}

		return ready[i].Source.Name < ready[j].Source.Name
	})

	return ready
}

func dependenciesSatisfied(node *Node, toBuild, built map[string]struct{}) bool {
	for dep := range iterate(node.BuildTimeDependencies) {
		if dep == node.Source.Name {
			continue
		}

		if _, needsBuild := toBuild[dep]; !needsBuild {
			continue
		}

		if _, ok := built[dep]; !ok {
			return false
		}
	}

	return true
}
