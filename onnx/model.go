// Package onnx reads, rewrites and checks ONNX models at the protobuf wire
// level.
//
// Only the parts of ModelProto needed to rename a graph's signature, mark
// dynamic axes and check structural well-formedness are modelled: opset
// imports, graph nodes, initializer names, graph inputs/outputs/value_info
// and subgraphs held in node attributes. Every other field, including
// initializer payloads, is carried through Marshal untouched.
package onnx

import (
	"fmt"
	"os"
	"sort"

	"github.com/K3das/parakeet/tensor"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = fmt.Errorf("malformed onnx model")

// Tensor element types, from TensorProto.DataType.
const (
	ElemUndefined int32 = 0
	ElemFloat     int32 = 1
	ElemUint8     int32 = 2
	ElemInt8      int32 = 3
	ElemInt32     int32 = 6
	ElemInt64     int32 = 7
	ElemBool      int32 = 9
	ElemFloat16   int32 = 10
	ElemDouble    int32 = 11
)

// ModelProto
const (
	fieldModelIRVersion    protowire.Number = 1
	fieldModelProducerName protowire.Number = 2
	fieldModelGraph        protowire.Number = 7
	fieldModelOpsetImport  protowire.Number = 8
)

// OperatorSetIdProto
const (
	fieldOpsetDomain  protowire.Number = 1
	fieldOpsetVersion protowire.Number = 2
)

// GraphProto
const (
	fieldGraphNode              protowire.Number = 1
	fieldGraphName              protowire.Number = 2
	fieldGraphInitializer       protowire.Number = 5
	fieldGraphInput             protowire.Number = 11
	fieldGraphOutput            protowire.Number = 12
	fieldGraphValueInfo         protowire.Number = 13
	fieldGraphSparseInitializer protowire.Number = 15
)

// NodeProto
const (
	fieldNodeInput     protowire.Number = 1
	fieldNodeOutput    protowire.Number = 2
	fieldNodeName      protowire.Number = 3
	fieldNodeOpType    protowire.Number = 4
	fieldNodeAttribute protowire.Number = 5
	fieldNodeDomain    protowire.Number = 7
)

// AttributeProto
const (
	fieldAttrName   protowire.Number = 1
	fieldAttrGraph  protowire.Number = 6
	fieldAttrGraphs protowire.Number = 11
)

// ValueInfoProto, TypeProto, TypeProto.Tensor, TensorShapeProto and its Dimension
const (
	fieldValueInfoName protowire.Number = 1
	fieldValueInfoType protowire.Number = 2

	fieldTypeTensor protowire.Number = 1

	fieldTensorTypeElem  protowire.Number = 1
	fieldTensorTypeShape protowire.Number = 2

	fieldShapeDim protowire.Number = 1

	fieldDimValue protowire.Number = 1
	fieldDimParam protowire.Number = 2
)

// TensorProto, StringStringEntryProto and SparseTensorProto
const (
	fieldTensorDims         protowire.Number = 1
	fieldTensorDataType     protowire.Number = 2
	fieldTensorName         protowire.Number = 8
	fieldTensorExternalData protowire.Number = 13
	fieldTensorDataLocation protowire.Number = 14

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2

	fieldSparseValues protowire.Number = 1
)

// dataLocationExternal is TensorProto.DataLocation.EXTERNAL.
const dataLocationExternal = 1

type Model struct {
	IRVersion    int64
	ProducerName string
	Opsets       []*OpsetImport
	Graph        *Graph

	unknown []byte
}

type OpsetImport struct {
	Domain  string
	Version int64

	unknown []byte
}

type Graph struct {
	Name         string
	Nodes        []*Node
	Initializers []*Initializer
	Inputs       []*ValueInfo
	Outputs      []*ValueInfo
	ValueInfo    []*ValueInfo

	// names of sparse initializers, which stay in unknown
	sparseNames []string
	unknown     []byte
}

// Initializer keeps the tensor payload opaque; only its name and, for
// tensors stored outside the model file, the data location are decoded.
type Initializer struct {
	Name string
	// Location is the external data file, relative to the model file. Empty
	// when the payload is stored inline.
	Location string

	rest []byte
}

type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []*Attribute

	unknown []byte
}

// Attribute decodes only the fields that can hold subgraphs.
type Attribute struct {
	Name   string
	Graph  *Graph
	Graphs []*Graph

	unknown []byte
}

type ValueInfo struct {
	Name string
	Type *TypeProto

	unknown []byte
}

type TypeProto struct {
	Tensor *TensorType

	unknown []byte
}

type TensorType struct {
	ElemType int32
	Shape    *Shape

	unknown []byte
}

type Shape struct {
	Dims []*Dim

	unknown []byte
}

// Dim is either a fixed size (HasValue), a symbolic Param, or unknown.
type Dim struct {
	Value    int64
	HasValue bool
	Param    string

	unknown []byte
}

func (d *Dim) String() string {
	switch {
	case d.Param != "":
		return d.Param
	case d.HasValue:
		return fmt.Sprint(d.Value)
	default:
		return "?"
	}
}

// Load reads and parses a model file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	return Parse(data)
}

// Save marshals the model to path.
func (m *Model) Save(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	return nil
}

// Parse decodes a serialized ModelProto. The returned model references data.
func Parse(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty model", ErrMalformed)
	}

	m := &Model{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		switch num {
		case fieldModelIRVersion:
			v, err := varintField(num, typ, value)
			if err != nil {
				return err
			}
			m.IRVersion = int64(v)
		case fieldModelProducerName:
			v, err := stringField(num, typ, value)
			if err != nil {
				return err
			}
			m.ProducerName = v
		case fieldModelGraph:
			b, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			g, err := parseGraph(b)
			if err != nil {
				return fmt.Errorf("graph: %w", err)
			}
			m.Graph = g
		case fieldModelOpsetImport:
			b, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			o, err := parseOpset(b)
			if err != nil {
				return fmt.Errorf("opset_import: %w", err)
			}
			m.Opsets = append(m.Opsets, o)
		default:
			m.unknown = append(m.unknown, raw...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func parseOpset(b []byte) (*OpsetImport, error) {
	o := &OpsetImport{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		var err error
		switch num {
		case fieldOpsetDomain:
			o.Domain, err = stringField(num, typ, value)
		case fieldOpsetVersion:
			var v uint64
			v, err = varintField(num, typ, value)
			o.Version = int64(v)
		default:
			o.unknown = append(o.unknown, raw...)
		}
		return err
	})
	return o, err
}

func parseGraph(b []byte) (*Graph, error) {
	g := &Graph{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		switch num {
		case fieldGraphName:
			v, err := stringField(num, typ, value)
			if err != nil {
				return err
			}
			g.Name = v
		case fieldGraphNode:
			msg, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			n, err := parseNode(msg)
			if err != nil {
				return fmt.Errorf("node %d: %w", len(g.Nodes), err)
			}
			g.Nodes = append(g.Nodes, n)
		case fieldGraphInitializer:
			msg, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			init, err := parseInitializer(msg)
			if err != nil {
				return fmt.Errorf("initializer %d: %w", len(g.Initializers), err)
			}
			g.Initializers = append(g.Initializers, init)
		case fieldGraphInput, fieldGraphOutput, fieldGraphValueInfo:
			msg, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			vi, err := parseValueInfo(msg)
			if err != nil {
				return fmt.Errorf("value info: %w", err)
			}
			switch num {
			case fieldGraphInput:
				g.Inputs = append(g.Inputs, vi)
			case fieldGraphOutput:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
		case fieldGraphSparseInitializer:
			msg, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			name, err := sparseInitializerName(msg)
			if err != nil {
				return fmt.Errorf("sparse initializer: %w", err)
			}
			g.sparseNames = append(g.sparseNames, name)
			g.unknown = append(g.unknown, raw...)
		default:
			g.unknown = append(g.unknown, raw...)
		}
		return nil
	})
	return g, err
}

func parseInitializer(b []byte) (*Initializer, error) {
	init := &Initializer{}
	var external bool
	var location string
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		switch num {
		case fieldTensorName:
			v, err := stringField(num, typ, value)
			init.Name = v
			return err
		case fieldTensorExternalData:
			msg, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			key, val, err := parseStringEntry(msg)
			if err != nil {
				return err
			}
			if key == "location" {
				location = val
			}
		case fieldTensorDataLocation:
			v, err := varintField(num, typ, value)
			if err != nil {
				return err
			}
			external = v == dataLocationExternal
		}
		init.rest = append(init.rest, raw...)
		return nil
	})
	if external {
		init.Location = location
	}
	return init, err
}

func parseStringEntry(b []byte) (key, value string, err error) {
	err = walkFields(b, func(num protowire.Number, typ protowire.Type, v, raw []byte) error {
		var err error
		switch num {
		case fieldEntryKey:
			key, err = stringField(num, typ, v)
		case fieldEntryValue:
			value, err = stringField(num, typ, v)
		}
		return err
	})
	return key, value, err
}

// NewExternalInitializer describes a tensor whose payload lives in the file
// location, relative to the model file.
func NewExternalInitializer(name string, elemType int32, dims []int64, location string) *Initializer {
	var b []byte
	for _, d := range dims {
		b = appendVarint(b, fieldTensorDims, uint64(d))
	}
	b = appendVarint(b, fieldTensorDataType, uint64(elemType))
	var entry []byte
	entry = appendString(entry, fieldEntryKey, "location")
	entry = appendString(entry, fieldEntryValue, location)
	b = appendMessage(b, fieldTensorExternalData, entry)
	b = appendVarint(b, fieldTensorDataLocation, dataLocationExternal)
	return &Initializer{Name: name, Location: location, rest: b}
}

func sparseInitializerName(b []byte) (string, error) {
	var name string
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		if num != fieldSparseValues {
			return nil
		}
		msg, err := bytesField(num, typ, value)
		if err != nil {
			return err
		}
		init, err := parseInitializer(msg)
		if err != nil {
			return err
		}
		name = init.Name
		return nil
	})
	return name, err
}

func parseNode(b []byte) (*Node, error) {
	n := &Node{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		var err error
		switch num {
		case fieldNodeInput:
			var v string
			v, err = stringField(num, typ, value)
			n.Inputs = append(n.Inputs, v)
		case fieldNodeOutput:
			var v string
			v, err = stringField(num, typ, value)
			n.Outputs = append(n.Outputs, v)
		case fieldNodeName:
			n.Name, err = stringField(num, typ, value)
		case fieldNodeOpType:
			n.OpType, err = stringField(num, typ, value)
		case fieldNodeDomain:
			n.Domain, err = stringField(num, typ, value)
		case fieldNodeAttribute:
			var msg []byte
			msg, err = bytesField(num, typ, value)
			if err != nil {
				return err
			}
			var a *Attribute
			a, err = parseAttribute(msg)
			if err != nil {
				return fmt.Errorf("attribute: %w", err)
			}
			n.Attributes = append(n.Attributes, a)
		default:
			n.unknown = append(n.unknown, raw...)
		}
		return err
	})
	return n, err
}

func parseAttribute(b []byte) (*Attribute, error) {
	a := &Attribute{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		switch num {
		case fieldAttrName:
			v, err := stringField(num, typ, value)
			a.Name = v
			return err
		case fieldAttrGraph, fieldAttrGraphs:
			msg, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			g, err := parseGraph(msg)
			if err != nil {
				return fmt.Errorf("subgraph: %w", err)
			}
			if num == fieldAttrGraph {
				a.Graph = g
			} else {
				a.Graphs = append(a.Graphs, g)
			}
		default:
			a.unknown = append(a.unknown, raw...)
		}
		return nil
	})
	return a, err
}

func parseValueInfo(b []byte) (*ValueInfo, error) {
	vi := &ValueInfo{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		switch num {
		case fieldValueInfoName:
			v, err := stringField(num, typ, value)
			vi.Name = v
			return err
		case fieldValueInfoType:
			msg, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			vi.Type, err = parseType(msg)
			return err
		default:
			vi.unknown = append(vi.unknown, raw...)
		}
		return nil
	})
	return vi, err
}

func parseType(b []byte) (*TypeProto, error) {
	t := &TypeProto{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		if num != fieldTypeTensor {
			t.unknown = append(t.unknown, raw...)
			return nil
		}
		msg, err := bytesField(num, typ, value)
		if err != nil {
			return err
		}
		t.Tensor, err = parseTensorType(msg)
		return err
	})
	return t, err
}

func parseTensorType(b []byte) (*TensorType, error) {
	tt := &TensorType{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		switch num {
		case fieldTensorTypeElem:
			v, err := varintField(num, typ, value)
			tt.ElemType = int32(v)
			return err
		case fieldTensorTypeShape:
			msg, err := bytesField(num, typ, value)
			if err != nil {
				return err
			}
			tt.Shape, err = parseShape(msg)
			return err
		default:
			tt.unknown = append(tt.unknown, raw...)
		}
		return nil
	})
	return tt, err
}

func parseShape(b []byte) (*Shape, error) {
	s := &Shape{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		if num != fieldShapeDim {
			s.unknown = append(s.unknown, raw...)
			return nil
		}
		msg, err := bytesField(num, typ, value)
		if err != nil {
			return err
		}
		d, err := parseDim(msg)
		if err != nil {
			return err
		}
		s.Dims = append(s.Dims, d)
		return nil
	})
	return s, err
}

func parseDim(b []byte) (*Dim, error) {
	d := &Dim{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value, raw []byte) error {
		switch num {
		case fieldDimValue:
			v, err := varintField(num, typ, value)
			d.Value = int64(v)
			d.HasValue = true
			return err
		case fieldDimParam:
			v, err := stringField(num, typ, value)
			d.Param = v
			return err
		default:
			d.unknown = append(d.unknown, raw...)
		}
		return nil
	})
	return d, err
}

// Marshal encodes the model. Fields this package does not model are written
// back as they were read.
func (m *Model) Marshal() ([]byte, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("%w: model has no graph", ErrMalformed)
	}

	var b []byte
	if m.IRVersion != 0 {
		b = appendVarint(b, fieldModelIRVersion, uint64(m.IRVersion))
	}
	b = appendStringNonEmpty(b, fieldModelProducerName, m.ProducerName)
	b = appendMessage(b, fieldModelGraph, m.Graph.marshal())
	for _, o := range m.Opsets {
		b = appendMessage(b, fieldModelOpsetImport, o.marshal())
	}
	b = append(b, m.unknown...)
	return b, nil
}

func (o *OpsetImport) marshal() []byte {
	var b []byte
	b = appendStringNonEmpty(b, fieldOpsetDomain, o.Domain)
	if o.Version != 0 {
		b = appendVarint(b, fieldOpsetVersion, uint64(o.Version))
	}
	return append(b, o.unknown...)
}

func (g *Graph) marshal() []byte {
	var b []byte
	for _, n := range g.Nodes {
		b = appendMessage(b, fieldGraphNode, n.marshal())
	}
	b = appendStringNonEmpty(b, fieldGraphName, g.Name)
	for _, init := range g.Initializers {
		b = appendMessage(b, fieldGraphInitializer, init.marshal())
	}
	for _, vi := range g.Inputs {
		b = appendMessage(b, fieldGraphInput, vi.marshal())
	}
	for _, vi := range g.Outputs {
		b = appendMessage(b, fieldGraphOutput, vi.marshal())
	}
	for _, vi := range g.ValueInfo {
		b = appendMessage(b, fieldGraphValueInfo, vi.marshal())
	}
	return append(b, g.unknown...)
}

func (init *Initializer) marshal() []byte {
	b := append([]byte(nil), init.rest...)
	return appendStringNonEmpty(b, fieldTensorName, init.Name)
}

func (n *Node) marshal() []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendString(b, fieldNodeInput, in)
	}
	for _, out := range n.Outputs {
		b = appendString(b, fieldNodeOutput, out)
	}
	b = appendStringNonEmpty(b, fieldNodeName, n.Name)
	b = appendStringNonEmpty(b, fieldNodeOpType, n.OpType)
	for _, a := range n.Attributes {
		b = appendMessage(b, fieldNodeAttribute, a.marshal())
	}
	b = appendStringNonEmpty(b, fieldNodeDomain, n.Domain)
	return append(b, n.unknown...)
}

func (a *Attribute) marshal() []byte {
	var b []byte
	b = appendStringNonEmpty(b, fieldAttrName, a.Name)
	if a.Graph != nil {
		b = appendMessage(b, fieldAttrGraph, a.Graph.marshal())
	}
	for _, g := range a.Graphs {
		b = appendMessage(b, fieldAttrGraphs, g.marshal())
	}
	return append(b, a.unknown...)
}

func (vi *ValueInfo) marshal() []byte {
	var b []byte
	b = appendStringNonEmpty(b, fieldValueInfoName, vi.Name)
	if vi.Type != nil {
		b = appendMessage(b, fieldValueInfoType, vi.Type.marshal())
	}
	return append(b, vi.unknown...)
}

func (t *TypeProto) marshal() []byte {
	var b []byte
	if t.Tensor != nil {
		b = appendMessage(b, fieldTypeTensor, t.Tensor.marshal())
	}
	return append(b, t.unknown...)
}

func (tt *TensorType) marshal() []byte {
	var b []byte
	if tt.ElemType != 0 {
		b = appendVarint(b, fieldTensorTypeElem, uint64(tt.ElemType))
	}
	if tt.Shape != nil {
		b = appendMessage(b, fieldTensorTypeShape, tt.Shape.marshal())
	}
	return append(b, tt.unknown...)
}

func (s *Shape) marshal() []byte {
	var b []byte
	for _, d := range s.Dims {
		b = appendMessage(b, fieldShapeDim, d.marshal())
	}
	return append(b, s.unknown...)
}

func (d *Dim) marshal() []byte {
	var b []byte
	switch {
	case d.Param != "":
		b = appendString(b, fieldDimParam, d.Param)
	case d.HasValue:
		b = appendVarint(b, fieldDimValue, uint64(d.Value))
	}
	return append(b, d.unknown...)
}

// ElemType returns the tensor element type, or ElemUndefined for non-tensor
// values.
// ExternalDataFiles lists the external data files referenced by the
// initializers of the graph and its subgraphs, sorted and without
// duplicates.
func (m *Model) ExternalDataFiles() []string {
	seen := make(map[string]struct{})
	var walk func(g *Graph)
	walk = func(g *Graph) {
		for _, init := range g.Initializers {
			if init.Location != "" {
				seen[init.Location] = struct{}{}
			}
		}
		for _, n := range g.Nodes {
			for _, sub := range n.subgraphs() {
				walk(sub)
			}
		}
	}
	if m.Graph != nil {
		walk(m.Graph)
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func (vi *ValueInfo) ElemType() int32 {
	if vi.Type == nil || vi.Type.Tensor == nil {
		return ElemUndefined
	}
	return vi.Type.Tensor.ElemType
}

// Datatype names the tensor datatype of the element type, or "" for values
// without a declared type.
func (vi *ValueInfo) Datatype() (string, error) {
	switch elem := vi.ElemType(); elem {
	case ElemUndefined:
		return "", nil
	case ElemFloat:
		return tensor.DatatypeFP32, nil
	case ElemInt64:
		return tensor.DatatypeINT64, nil
	case ElemInt32:
		return tensor.DatatypeINT32, nil
	default:
		return "", fmt.Errorf("%s: %w: onnx element type %d", vi.Name, tensor.ErrUnsupportedDatatype, elem)
	}
}

// Dims returns the declared dimensions, or nil when the shape is unknown.
func (vi *ValueInfo) Dims() []*Dim {
	if vi.Type == nil || vi.Type.Tensor == nil || vi.Type.Tensor.Shape == nil {
		return nil
	}
	return vi.Type.Tensor.Shape.Dims
}

// NewTensorValueInfo builds a tensor ValueInfo. A negative dim is unknown.
func NewTensorValueInfo(name string, elemType int32, dims ...int64) *ValueInfo {
	shape := &Shape{}
	for _, d := range dims {
		if d < 0 {
			shape.Dims = append(shape.Dims, &Dim{})
			continue
		}
		shape.Dims = append(shape.Dims, &Dim{Value: d, HasValue: true})
	}
	return &ValueInfo{
		Name: name,
		Type: &TypeProto{Tensor: &TensorType{ElemType: elemType, Shape: shape}},
	}
}

func findValue(values []*ValueInfo, name string) *ValueInfo {
	for _, vi := range values {
		if vi.Name == name {
			return vi
		}
	}
	return nil
}

func (g *Graph) FindInput(name string) *ValueInfo {
	return findValue(g.Inputs, name)
}

func (g *Graph) FindOutput(name string) *ValueInfo {
	return findValue(g.Outputs, name)
}

// RealInputs are the graph inputs that are not also initializers. Older IR
// versions list every initializer as an input too.
func (g *Graph) RealInputs() []*ValueInfo {
	inits := make(map[string]struct{}, len(g.Initializers))
	for _, init := range g.Initializers {
		inits[init.Name] = struct{}{}
	}
	var inputs []*ValueInfo
	for _, vi := range g.Inputs {
		if _, ok := inits[vi.Name]; !ok {
			inputs = append(inputs, vi)
		}
	}
	return inputs
}

// SignatureString describes a value as name[dims] for logs.
func (vi *ValueInfo) SignatureString() string {
	s := vi.Name + "["
	for i, d := range vi.Dims() {
		if i > 0 {
			s += ","
		}
		s += d.String()
	}
	return s + "]"
}
