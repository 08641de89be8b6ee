package onnx

import (
	"fmt"
	"maps"
	"slices"
)

var ErrSignatureMismatch = fmt.Errorf("graph does not match signature")

// Signature is the positional call signature a sub-network is exported with.
type Signature struct {
	Inputs  []string
	Outputs []string
	// DynamicAxes maps an input or output name to axis -> symbolic name.
	DynamicAxes map[string]map[int]string
}

// Wrap rewrites the graph so it exposes exactly sig: outputs past the
// declared count are dropped (a sub-network returning a tuple keeps its
// first tensors), inputs and outputs are renamed by position, and the
// declared axes become symbolic.
func Wrap(m *Model, sig Signature) error {
	g := m.Graph
	if g == nil {
		return fmt.Errorf("%w: missing graph", ErrMalformed)
	}

	inputs := g.RealInputs()
	if len(inputs) != len(sig.Inputs) {
		return fmt.Errorf("%w: graph takes %d inputs, signature declares %d", ErrSignatureMismatch, len(inputs), len(sig.Inputs))
	}
	if len(g.Outputs) < len(sig.Outputs) {
		return fmt.Errorf("%w: graph returns %d outputs, signature declares %d", ErrSignatureMismatch, len(g.Outputs), len(sig.Outputs))
	}

	g.Outputs = g.Outputs[:len(sig.Outputs)]

	mapping := make(map[string]string)
	add := func(from, to string) error {
		if prev, ok := mapping[from]; ok && prev != to {
			return fmt.Errorf("%w: %q cannot be both %q and %q", ErrSignatureMismatch, from, prev, to)
		}
		if from != to {
			mapping[from] = to
		}
		return nil
	}
	for i, vi := range inputs {
		if err := add(vi.Name, sig.Inputs[i]); err != nil {
			return err
		}
	}
	for i, vi := range g.Outputs {
		if err := add(vi.Name, sig.Outputs[i]); err != nil {
			return err
		}
	}

	if err := g.Rename(mapping); err != nil {
		return err
	}

	names := slices.Sorted(maps.Keys(sig.DynamicAxes))
	for _, name := range names {
		vi := g.FindInput(name)
		if vi == nil {
			vi = g.FindOutput(name)
		}
		if vi == nil {
			return fmt.Errorf("%w: dynamic axes for unknown value %q", ErrSignatureMismatch, name)
		}
		for axis, param := range sig.DynamicAxes[name] {
			if err := vi.SetDynamicAxis(axis, param); err != nil {
				return err
			}
		}
	}

	return nil
}

// SetDynamicAxis turns dimension axis into the symbolic dimension param.
func (vi *ValueInfo) SetDynamicAxis(axis int, param string) error {
	dims := vi.Dims()
	if axis < 0 || axis >= len(dims) {
		return fmt.Errorf("%w: %q has rank %d, cannot mark axis %d as %q", ErrSignatureMismatch, vi.Name, len(dims), axis, param)
	}
	dims[axis].Param = param
	dims[axis].HasValue = false
	dims[axis].Value = 0
	return nil
}

// Rename renames values throughout the graph and its subgraphs. All renames
// apply at once, so names may be swapped.
func (g *Graph) Rename(mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}

	targets := make(map[string]string, len(mapping))
	for from, to := range mapping {
		if to == "" {
			return fmt.Errorf("%w: empty name for %q", ErrSignatureMismatch, from)
		}
		if other, ok := targets[to]; ok {
			return fmt.Errorf("%w: %q and %q both renamed to %q", ErrDuplicateValue, other, from, to)
		}
		targets[to] = from
	}

	existing := make(map[string]struct{})
	g.collectNames(existing)
	for to, from := range targets {
		if _, ok := existing[to]; !ok {
			continue
		}
		if _, renamedAway := mapping[to]; renamedAway {
			continue
		}
		return fmt.Errorf("%w: cannot rename %q to %q, name already in use", ErrDuplicateValue, from, to)
	}

	g.applyRename(mapping)
	return nil
}

func (g *Graph) collectNames(names map[string]struct{}) {
	for _, vi := range g.Inputs {
		names[vi.Name] = struct{}{}
	}
	for _, vi := range g.Outputs {
		names[vi.Name] = struct{}{}
	}
	for _, vi := range g.ValueInfo {
		names[vi.Name] = struct{}{}
	}
	for _, init := range g.Initializers {
		names[init.Name] = struct{}{}
	}
	for _, name := range g.sparseNames {
		names[name] = struct{}{}
	}
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			names[in] = struct{}{}
		}
		for _, out := range n.Outputs {
			names[out] = struct{}{}
		}
		for _, sub := range n.subgraphs() {
			sub.collectNames(names)
		}
	}
}

func (g *Graph) applyRename(mapping map[string]string) {
	rename := func(s *string) {
		if to, ok := mapping[*s]; ok {
			*s = to
		}
	}

	for _, vi := range g.Inputs {
		rename(&vi.Name)
	}
	for _, vi := range g.Outputs {
		rename(&vi.Name)
	}
	for _, vi := range g.ValueInfo {
		rename(&vi.Name)
	}
	for _, init := range g.Initializers {
		rename(&init.Name)
	}
	for _, n := range g.Nodes {
		for i := range n.Inputs {
			rename(&n.Inputs[i])
		}
		for i := range n.Outputs {
			rename(&n.Outputs[i])
		}
		for _, sub := range n.subgraphs() {
			sub.applyRename(mapping)
		}
	}
}

func (n *Node) subgraphs() []*Graph {
	var out []*Graph
	for _, a := range n.Attributes {
		if a.Graph != nil {
			out = append(out, a.Graph)
		}
		out = append(out, a.Graphs...)
	}
	return out
}
