// Package config is the configuration surface. EngineOptions
// is the in-code struct every embedder constructs directly; LoadFile adds a
// YAML loader on top of it for the cmd/icing tool and other standalone
// embedders, grounded the way the Distributed-Search-Analytics-Platform and
// serverlessSearchEngine examples keep a YAML config file alongside their
// CLI flags.
package config

import (
	"io/ioutil"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/PixelPlusUI-SnowCone/external-icing/status"
)

// MaxIndexMergeSize is the cap this implementation chooses for
// index_merge_size. Values up to INT32_MAX-1 are technically representable,
// but behavior that close to the limit is unspecified, so a concrete,
// documented ceiling well under it is enforced instead.
const MaxIndexMergeSize = 256 * 1024 * 1024 // 256 MiB

// EngineOptions are the recognized engine options.
type EngineOptions struct {
	BaseDir         string `yaml:"base_dir"`
	IndexMergeSize  int    `yaml:"index_merge_size"`
	MaxTokensPerDoc int    `yaml:"max_tokens_per_doc"`
	MaxTokenLength  int    `yaml:"max_token_length"`
}

// Default returns a reasonable option set for the cmd/icing CLI tool and
// for tests to build on.
func Default(baseDir string) *EngineOptions {
	return &EngineOptions{
		BaseDir:         baseDir,
		IndexMergeSize:  1 << 20, // 1 MiB
		MaxTokensPerDoc: 1000,
		MaxTokenLength:  30,
	}
}

// Validate enforces the options validation, run during Initialize.
func (o *EngineOptions) Validate() error {
	if o.BaseDir == "" {
		return status.New(status.InvalidArgument, "base_dir must not be empty")
	}
	if o.IndexMergeSize < 1 || o.IndexMergeSize >= math.MaxInt32 {
		return status.Newf(status.InvalidArgument, "index_merge_size must be in [1, INT32_MAX), got %d", o.IndexMergeSize)
	}
	if o.IndexMergeSize > MaxIndexMergeSize {
		return status.Newf(status.InvalidArgument, "index_merge_size must not exceed %d", MaxIndexMergeSize)
	}
	if o.MaxTokensPerDoc <= 0 {
		return status.Newf(status.InvalidArgument, "max_tokens_per_doc must be > 0, got %d", o.MaxTokensPerDoc)
	}
	if o.MaxTokenLength <= 0 {
		return status.Newf(status.InvalidArgument, "max_token_length must be > 0, got %d", o.MaxTokenLength)
	}
	return nil
}

// LoadFile reads an EngineOptions from a YAML file, filling in Default("")
// defaults for any field left unset.
func LoadFile(path string) (*EngineOptions, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, status.Wrapf(status.Internal, err, "reading config file %s", path)
	}

	opts := Default("")
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, status.Wrapf(status.InvalidArgument, err, "parsing config file %s", path)
	}

	return opts, nil
}
