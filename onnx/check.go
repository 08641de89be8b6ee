package onnx

import (
	"fmt"
)

var (
	ErrUndefinedValue = fmt.Errorf("value used before it is defined")
	ErrDuplicateValue = fmt.Errorf("value defined more than once")
)

// Check verifies that a model is structurally well-formed: it has an IR
// version, opset imports and a named graph, every node has an operator, and
// the graph is in single-assignment topological order with no dangling
// references.
func Check(m *Model) error {
	if m.IRVersion <= 0 {
		return fmt.Errorf("%w: missing ir_version", ErrMalformed)
	}
	if m.IRVersion >= 3 && len(m.Opsets) == 0 {
		return fmt.Errorf("%w: missing opset_import", ErrMalformed)
	}
	if m.Graph == nil {
		return fmt.Errorf("%w: missing graph", ErrMalformed)
	}
	return checkGraph(m.Graph, nil)
}

// checkGraph validates g. outer holds the values visible from enclosing
// graphs, for subgraphs of control-flow nodes.
func checkGraph(g *Graph, outer map[string]struct{}) error {
	if g.Name == "" {
		return fmt.Errorf("%w: graph has no name", ErrMalformed)
	}

	local := make(map[string]struct{})
	defined := func(name string) bool {
		if _, ok := local[name]; ok {
			return true
		}
		_, ok := outer[name]
		return ok
	}

	for i, vi := range g.Inputs {
		if vi.Name == "" {
			return fmt.Errorf("graph %q: %w: input %d has no name", g.Name, ErrMalformed, i)
		}
		if _, ok := local[vi.Name]; ok {
			return fmt.Errorf("graph %q: %w: input %q", g.Name, ErrDuplicateValue, vi.Name)
		}
		local[vi.Name] = struct{}{}
	}

	inputs := make(map[string]struct{}, len(local))
	for name := range local {
		inputs[name] = struct{}{}
	}

	initNames := make([]string, 0, len(g.Initializers)+len(g.sparseNames))
	for _, init := range g.Initializers {
		initNames = append(initNames, init.Name)
	}
	initNames = append(initNames, g.sparseNames...)

	seenInits := make(map[string]struct{}, len(initNames))
	for _, name := range initNames {
		if name == "" {
			return fmt.Errorf("graph %q: %w: initializer has no name", g.Name, ErrMalformed)
		}
		if _, ok := seenInits[name]; ok {
			return fmt.Errorf("graph %q: %w: initializer %q", g.Name, ErrDuplicateValue, name)
		}
		seenInits[name] = struct{}{}
		// an initializer may double as a graph input
		if _, ok := inputs[name]; ok {
			continue
		}
		local[name] = struct{}{}
	}

	for i, n := range g.Nodes {
		label := n.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		if n.OpType == "" {
			return fmt.Errorf("graph %q node %s: %w: missing op_type", g.Name, label, ErrMalformed)
		}

		for _, in := range n.Inputs {
			if in == "" {
				continue // omitted optional input
			}
			if !defined(in) {
				return fmt.Errorf("graph %q node %s: %w: %q", g.Name, label, ErrUndefinedValue, in)
			}
		}

		for _, a := range n.Attributes {
			subgraphs := a.Graphs
			if a.Graph != nil {
				subgraphs = append([]*Graph{a.Graph}, subgraphs...)
			}
			if len(subgraphs) == 0 {
				continue
			}
			scope := make(map[string]struct{}, len(outer)+len(local))
			for name := range outer {
				scope[name] = struct{}{}
			}
			for name := range local {
				scope[name] = struct{}{}
			}
			for _, sub := range subgraphs {
				if err := checkGraph(sub, scope); err != nil {
					return fmt.Errorf("graph %q node %s attribute %q: %w", g.Name, label, a.Name, err)
				}
			}
		}

		for _, out := range n.Outputs {
			if out == "" {
				continue
			}
			if _, ok := local[out]; ok {
				return fmt.Errorf("graph %q node %s: %w: %q", g.Name, label, ErrDuplicateValue, out)
			}
			local[out] = struct{}{}
		}
	}

	for i, vi := range g.Outputs {
		if vi.Name == "" {
			return fmt.Errorf("graph %q: %w: output %d has no name", g.Name, ErrMalformed, i)
		}
		if !defined(vi.Name) {
			return fmt.Errorf("graph %q output: %w: %q", g.Name, ErrUndefinedValue, vi.Name)
		}
	}

	return nil
}
