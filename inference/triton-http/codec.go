package tritonhttp

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/K3das/parakeet/inference"
	"github.com/K3das/parakeet/tensor"
)

// HeaderContentLength carries the size of the JSON header when a body mixes
// JSON and raw tensor bytes.
const HeaderContentLength = "Inference-Header-Content-Length"

type tensorParameters struct {
	BinaryDataSize *int64 `json:"binary_data_size,omitempty"`
	BinaryData     *bool  `json:"binary_data,omitempty"`
}

type requestInput struct {
	Name       string            `json:"name"`
	Shape      []int64           `json:"shape"`
	Datatype   string            `json:"datatype"`
	Parameters *tensorParameters `json:"parameters,omitempty"`
}

type requestOutput struct {
	Name       string            `json:"name"`
	Parameters *tensorParameters `json:"parameters,omitempty"`
}

type inferRequest struct {
	Inputs  []requestInput  `json:"inputs"`
	Outputs []requestOutput `json:"outputs,omitempty"`
}

type responseOutput struct {
	Name       string            `json:"name"`
	Shape      []int64           `json:"shape"`
	Datatype   string            `json:"datatype"`
	Parameters *tensorParameters `json:"parameters,omitempty"`
	Data       json.RawMessage   `json:"data,omitempty"`
}

type inferResponse struct {
	ModelName    string           `json:"model_name"`
	ModelVersion string           `json:"model_version"`
	Outputs      []responseOutput `json:"outputs"`
	Error        string           `json:"error"`
}

// encodeRequest builds a binary-extension request body: the JSON header
// followed by every input's little-endian bytes in order. It returns the
// body and the header length.
func encodeRequest(inputs []*tensor.Tensor, outputs []string) ([]byte, int, error) {
	req := inferRequest{
		Inputs:  make([]requestInput, 0, len(inputs)),
		Outputs: make([]requestOutput, 0, len(outputs)),
	}

	var payload bytes.Buffer
	for _, t := range inputs {
		if err := t.Validate(); err != nil {
			return nil, 0, err
		}
		datatype, err := t.Datatype()
		if err != nil {
			return nil, 0, err
		}
		size := t.ByteSize()
		req.Inputs = append(req.Inputs, requestInput{
			Name:       t.Name,
			Shape:      t.Shape,
			Datatype:   datatype,
			Parameters: &tensorParameters{BinaryDataSize: &size},
		})
		if err := binary.Write(&payload, binary.LittleEndian, t.Data); err != nil {
			return nil, 0, fmt.Errorf("encoding %s: %w", t.Name, err)
		}
	}

	binaryData := true
	for _, name := range outputs {
		req.Outputs = append(req.Outputs, requestOutput{
			Name:       name,
			Parameters: &tensorParameters{BinaryData: &binaryData},
		})
	}

	header, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding request header: %w", err)
	}
	return append(header, payload.Bytes()...), len(header), nil
}

// decodeResponse splits body at headerLength (-1 when the whole body is
// JSON) and decodes every output, binary or JSON.
func decodeResponse(body []byte, headerLength int) (*inference.Result, error) {
	header, payload := body, []byte(nil)
	if headerLength >= 0 {
		if headerLength > len(body) {
			return nil, fmt.Errorf("%w: header length %d exceeds body of %d bytes", ErrMalformedResponse, headerLength, len(body))
		}
		header, payload = body[:headerLength], body[headerLength:]
	}

	var resp inferResponse
	if err := json.Unmarshal(header, &resp); err != nil {
		return nil, fmt.Errorf("decoding response json: %w", err)
	}
	if resp.Error != "" {
		return nil, &ServerError{Message: resp.Error}
	}

	result := &inference.Result{
		ModelName:    resp.ModelName,
		ModelVersion: resp.ModelVersion,
		Outputs:      make([]*tensor.Tensor, 0, len(resp.Outputs)),
	}
	for _, out := range resp.Outputs {
		var (
			t   *tensor.Tensor
			err error
		)
		if out.Parameters != nil && out.Parameters.BinaryDataSize != nil {
			size := *out.Parameters.BinaryDataSize
			if size < 0 || size > int64(len(payload)) {
				return nil, fmt.Errorf("%w: output %s needs %d bytes, %d left", ErrMalformedResponse, out.Name, size, len(payload))
			}
			t, err = decodeBinary(out, payload[:size])
			payload = payload[size:]
		} else {
			t, err = decodeJSON(out)
		}
		if err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, t)
	}
	return result, nil
}

func newTensor(out responseOutput, n int64) (*tensor.Tensor, error) {
	switch out.Datatype {
	case tensor.DatatypeFP32:
		return &tensor.Tensor{Name: out.Name, Shape: out.Shape, Data: make([]float32, n)}, nil
	case tensor.DatatypeINT64:
		return &tensor.Tensor{Name: out.Name, Shape: out.Shape, Data: make([]int64, n)}, nil
	case tensor.DatatypeINT32:
		return &tensor.Tensor{Name: out.Name, Shape: out.Shape, Data: make([]int32, n)}, nil
	default:
		return nil, fmt.Errorf("output %s: %w: %s", out.Name, tensor.ErrUnsupportedDatatype, out.Datatype)
	}
}

func decodeBinary(out responseOutput, data []byte) (*tensor.Tensor, error) {
	t, err := newTensor(out, tensor.Elements(out.Shape))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != t.ByteSize() {
		return nil, fmt.Errorf("%w: output %s has %d bytes, shape %v needs %d", ErrMalformedResponse, out.Name, len(data), out.Shape, t.ByteSize())
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, t.Data); err != nil {
		return nil, fmt.Errorf("decoding output %s: %w", out.Name, err)
	}
	return t, nil
}

func decodeJSON(out responseOutput) (*tensor.Tensor, error) {
	t, err := newTensor(out, 0)
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: output %s has no data", ErrMalformedResponse, out.Name)
	}

	switch t.Data.(type) {
	case []float32:
		var v []float32
		err = json.Unmarshal(out.Data, &v)
		t.Data = v
	case []int64:
		var v []int64
		err = json.Unmarshal(out.Data, &v)
		t.Data = v
	case []int32:
		var v []int32
		err = json.Unmarshal(out.Data, &v)
		t.Data = v
	}
	if err != nil {
		return nil, fmt.Errorf("decoding output %s data: %w", out.Name, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return t, nil
}

func parseHeaderLength(value string) (int, error) {
	if value == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad %s %q", ErrMalformedResponse, HeaderContentLength, value)
	}
	return n, nil
}
