package onnx

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// walkFields calls fn for every top-level field in b. value is the encoded
// field value without its tag, raw is the whole field including the tag.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, value, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		if err := fn(num, typ, b[n:n+m], b[:n+m]); err != nil {
			return err
		}
		b = b[n+m:]
	}
	return nil
}

func bytesField(num protowire.Number, typ protowire.Type, value []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d: want length-delimited, got wire type %d", ErrMalformed, num, typ)
	}
	v, n := protowire.ConsumeBytes(value)
	if n < 0 {
		return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
	}
	return v, nil
}

func stringField(num protowire.Number, typ protowire.Type, value []byte) (string, error) {
	v, err := bytesField(num, typ, value)
	return string(v), err
}

func varintField(num protowire.Number, typ protowire.Type, value []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d: want varint, got wire type %d", ErrMalformed, num, typ)
	}
	v, n := protowire.ConsumeVarint(value)
	if n < 0 {
		return 0, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
	}
	return v, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendStringNonEmpty(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendString(b, num, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
