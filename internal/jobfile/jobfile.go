// SPDX-License-Identifier: MPL-2.0

// Package jobfile loads compile jobs from TOML, YAML or CUE manifests.
//
// A manifest names the translation unit, its flags and any extra files to
// stage on top of the sysroot:
//
//	file   = "main.cpp"
//	flags  = ["-O2", "-std=c++20"]
//	output = "main.wasm"
//
//	[extra_files."/include/config.h"]
//	text = "#define DEBUG 0\n"
//
//	[extra_files."/share/table.bin"]
//	path = "assets/table.bin"
//
// The source is taken from "source" when set, otherwise read from
// "source_path" (default: "file") relative to the manifest directory.
// CUE manifests are additionally checked against an embedded #Job schema.
package jobfile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/invowk/wasmcc/internal/compile"
	"github.com/invowk/wasmcc/internal/cueutil"
	"github.com/invowk/wasmcc/internal/sysroot"
)

var (
	// ErrUnsupportedFormat is returned for manifest files that are neither TOML nor YAML.
	ErrUnsupportedFormat = errors.New("unsupported manifest format")

	// ErrInvalidManifest is returned when a manifest decodes but is not usable.
	ErrInvalidManifest = errors.New("invalid job manifest")
)

//go:embed job_schema.cue
var jobSchema []byte

type (
	// Manifest is the decoded form of a job file.
	Manifest struct {
		File       string               `json:"file" toml:"file" yaml:"file"`
		Source     string               `json:"source" toml:"source" yaml:"source"`
		SourcePath string               `json:"source_path" toml:"source_path" yaml:"source_path"`
		Flags      []string             `json:"flags" toml:"flags" yaml:"flags"`
		Output     string               `json:"output" toml:"output" yaml:"output"`
		ExtraFiles map[string]ExtraFile `json:"extra_files" toml:"extra_files" yaml:"extra_files"`

		// dir is the directory relative host paths resolve against.
		dir string
	}

	// ExtraFile is either inline text or a host file read as raw bytes.
	ExtraFile struct {
		Text *string `json:"text" toml:"text" yaml:"text"`
		Path string  `json:"path" toml:"path" yaml:"path"`
	}
)

// Load reads and validates the manifest at path. The format is chosen by
// extension: .toml, .yaml, .yml or .cue.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	m, err := parse(data, filepath.Ext(path), path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes a manifest. ext selects the format and includes the dot.
// Relative host paths resolve against the working directory.
func Parse(data []byte, ext string) (*Manifest, error) {
	return parse(data, ext, "")
}

func parse(data []byte, ext, filename string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	case ".cue":
		decoded, err := cueutil.ParseAndDecode[Manifest](jobSchema, data, "#Job", cueutil.WithFilename(filename))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
		m = *decoded
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if ok, errs := m.IsValid(); !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
	}
	return &m, nil
}

// IsValid returns whether the manifest names a file and every extra file
// declares exactly one content form.
func (m *Manifest) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(m.File) == "" {
		errs = append(errs, errors.New("file is required"))
	}
	if m.Source != "" && m.SourcePath != "" {
		errs = append(errs, errors.New("source and source_path are mutually exclusive"))
	}
	for name, f := range m.ExtraFiles {
		switch {
		case f.Text != nil && f.Path != "":
			errs = append(errs, fmt.Errorf("extra file %q: text and path are mutually exclusive", name))
		case f.Text == nil && f.Path == "":
			errs = append(errs, fmt.Errorf("extra file %q: one of text or path is required", name))
		}
	}
	return len(errs) == 0, errs
}

// Job reads every referenced host file and returns the compile job.
func (m *Manifest) Job() (compile.Job, error) {
	source := m.Source
	if source == "" {
		srcPath := m.SourcePath
		if srcPath == "" {
			srcPath = m.File
		}
		data, err := os.ReadFile(m.resolve(srcPath))
		if err != nil {
			return compile.Job{}, fmt.Errorf("reading source: %w", err)
		}
		source = string(data)
	}

	var extra sysroot.Files
	if len(m.ExtraFiles) > 0 {
		extra = make(sysroot.Files, len(m.ExtraFiles))
		for name, f := range m.ExtraFiles {
			if f.Text != nil {
				extra[name] = sysroot.Text(*f.Text)
				continue
			}
			data, err := os.ReadFile(m.resolve(f.Path))
			if err != nil {
				return compile.Job{}, fmt.Errorf("reading extra file %q: %w", name, err)
			}
			extra[name] = sysroot.Binary(data)
		}
	}

	return compile.Job{
		Source:     source,
		FileName:   filepath.ToSlash(m.File),
		Flags:      m.Flags,
		ExtraFiles: extra,
	}, nil
}

// OutputPath returns the host path for the linked binary, or "" when the
// manifest does not set one.
func (m *Manifest) OutputPath() string {
	if m.Output == "" {
		return ""
	}
	return m.resolve(m.Output)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}
