// Package source fetches the files of a pretrained model bundle.
//
// A bundle is a flat set of named files (the three sub-network graphs, the
// training config and the tokenizer vocabulary) addressed by model name.
// Missing files wrap os.ErrNotExist regardless of the backend.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type ModelSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

const (
	TypeHub   = "hub"
	TypeLocal = "local"
	TypeS3    = "s3"
)

var ErrUnknownSourceType = fmt.Errorf("unknown model source type")

type Options struct {
	Type string     `env:"SOURCE_TYPE" envDefault:"hub"`
	Dir  string     `env:"SOURCE_DIR" envDefault:"."`
	Hub  HubOptions `envPrefix:"HUB_"`
	S3   S3Options  `envPrefix:"S3_"`
}

// New returns the source for model as selected by options. Every backend
// resolves names under the model name: a sub-directory of Dir, a hub
// repository, or a key prefix in the bucket.
func New(ctx context.Context, options Options, model string) (ModelSource, error) {
	switch strings.ToLower(options.Type) {
	case TypeLocal:
		return NewLocal(filepath.Join(options.Dir, filepath.FromSlash(model))), nil
	case TypeHub, "":
		return NewHub(options.Hub, model), nil
	case TypeS3:
		client, err := NewS3Client(ctx, options.S3)
		if err != nil {
			return nil, err
		}
		return NewS3(client, options.S3.Bucket, joinKey(options.S3.Prefix, model)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, options.Type)
	}
}

type Local struct {
	Dir string
}

func NewLocal(dir string) *Local {
	return &Local{Dir: dir}
}

func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, fmt.Errorf("opening %q: invalid file name", name)
	}
	f, err := os.Open(filepath.Join(l.Dir, filepath.FromSlash(name)))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// validName rejects names that would escape the bundle root.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." || part == "" {
			return false
		}
	}
	return true
}

func joinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

var (
	_ ModelSource = (*Local)(nil)
	_ ModelSource = (*Hub)(nil)
	_ ModelSource = (*S3)(nil)
)
