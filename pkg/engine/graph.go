package engine

import (
	"fmt"
	"sort"
	"strings"
)

// ActionNode is one action in the catalogue's dependency graph.
type ActionNode struct {
	Name      string   `json:"name"`
	Level     int      `json:"level"`
	Group     string   `json:"group,omitempty"`
	Goal      bool     `json:"goal,omitempty"`
	Branch    bool     `json:"branch,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Feeds     []string `json:"feeds,omitempty"`
}

// ActionGraph is the action-to-action projection of the fact/action
// bipartite graph: an edge a -> b means some output of a (or its branch
// family) is an input of b.
type ActionGraph struct {
	nodes map[string]*ActionNode
	descs map[string]ActionDescriptor

	// adjacency maps an action to the actions consuming its outputs
	adjacency map[string][]string

	// reverse maps an action to the actions it consumes from
	reverse map[string][]string

	levels [][]string
}

func buildActionGraph(actions []Action, families map[FactType]FactType) (*ActionGraph, error) {
	g := &ActionGraph{
		nodes:     make(map[string]*ActionNode),
		descs:     make(map[string]ActionDescriptor),
		adjacency: make(map[string][]string),
		reverse:   make(map[string][]string),
	}

	consumers := make(map[FactType][]string)
	for _, a := range actions {
		d := a.Descriptor()
		g.descs[d.Name] = d
		g.adjacency[d.Name] = nil
		g.reverse[d.Name] = nil
		for _, in := range d.Inputs {
			consumers[in] = append(consumers[in], d.Name)
		}
	}

	for _, a := range actions {
		d := a.Descriptor()
		seen := make(map[string]bool)
		for _, out := range d.Outputs {
			targets := append([]string(nil), consumers[out]...)
			if family, ok := families[out]; ok {
				targets = append(targets, consumers[family]...)
			}
			for _, to := range targets {
				if seen[to] {
					continue
				}
				seen[to] = true
				g.adjacency[d.Name] = append(g.adjacency[d.Name], to)
				g.reverse[to] = append(g.reverse[to], d.Name)
			}
		}
	}
	for name := range g.adjacency {
		sort.Strings(g.adjacency[name])
		sort.Strings(g.reverse[name])
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.computeLevels()

	for level, names := range g.levels {
		for _, name := range names {
			d := g.descs[name]
			g.nodes[name] = &ActionNode{
				Name:      name,
				Level:     level,
				Group:     d.CapabilityGroup,
				Goal:      d.Goal,
				Branch:    d.IsBranch(),
				DependsOn: g.reverse[name],
				Feeds:     g.adjacency[name],
			}
		}
	}
	return g, nil
}

// detectCycles uses depth-first search to reject feedback loops between actions.
func (g *ActionGraph) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(name string, path []string) []string
	visit = func(name string, path []string) []string {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		for _, next := range g.adjacency[name] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				for i, n := range path {
					if n == next {
						return append(append([]string(nil), path[i:]...), next)
					}
				}
			}
		}
		onStack[name] = false
		return nil
	}

	names := make([]string, 0, len(g.adjacency))
	for name := range g.adjacency {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if visited[name] {
			continue
		}
		if cycle := visit(name, nil); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular action dependency: %s", strings.Join(cycle, " -> ")), nil).
				WithCode(ErrCodeCatalogueInvalid)
		}
	}
	return nil
}

// computeLevels assigns each action its depth using Kahn's algorithm.
func (g *ActionGraph) computeLevels() {
	inDegree := make(map[string]int, len(g.reverse))
	current := make([]string, 0)
	for name, deps := range g.reverse {
		inDegree[name] = len(deps)
		if len(deps) == 0 {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		sort.Strings(current)
		g.levels = append(g.levels, current)

		next := make([]string, 0)
		for _, name := range current {
			for _, dependent := range g.adjacency[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
}

// Levels returns action names grouped by depth.
func (g *ActionGraph) Levels() [][]string {
	return g.levels
}

// Node returns the node for the named action.
func (g *ActionGraph) Node(name string) (*ActionNode, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Len returns the number of actions in the graph.
func (g *ActionGraph) Len() int {
	return len(g.nodes)
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *ActionGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ActionCatalogue {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, name := range names {
			node := g.nodes[name]
			label := name
			if node.Group != "" {
				label = fmt.Sprintf("%s\\n[%s]", name, node.Group)
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				name, label, nodeColor(node)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, names := range g.levels {
		for _, name := range names {
			style := "style=solid, color=black"
			if g.nodes[name].Branch {
				style = "style=dashed, color=blue"
			}
			for _, to := range g.adjacency[name] {
				sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", name, to, style))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func nodeColor(n *ActionNode) string {
	switch {
	case n.Goal:
		return "lightgreen"
	case n.Branch:
		return "lightblue"
	case n.Group == "":
		return "lightgray"
	default:
		return "white"
	}
}
