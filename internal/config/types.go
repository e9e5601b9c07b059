// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidFilePath is returned when a FilePath value is whitespace-only.
	ErrInvalidFilePath = errors.New("invalid file path")
	// ErrInvalidTimeout is returned when a Timeout value is not a duration.
	ErrInvalidTimeout = errors.New("invalid timeout")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// FilePath is a host path or URL. The zero value means "not configured";
	// non-zero values must not be whitespace-only.
	FilePath string

	// InvalidFilePathError is returned when a FilePath value is non-empty but
	// whitespace-only.
	InvalidFilePathError struct {
		Field string
		Value FilePath
	}

	// Timeout is a Go duration string. The zero value means no deadline.
	Timeout string

	// InvalidTimeoutError is returned when a Timeout does not parse.
	InvalidTimeoutError struct {
		Value Timeout
		Err   error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Toolchain locates the WASI toolchain modules.
		Toolchain ToolchainConfig `json:"toolchain" mapstructure:"toolchain"`
		// Sysroot locates the sysroot image.
		Sysroot SysrootConfig `json:"sysroot" mapstructure:"sysroot"`
		// Compile sets defaults applied to every job.
		Compile CompileConfig `json:"compile" mapstructure:"compile"`
		// UI configures the user interface.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// ToolchainConfig locates the clang and wasm-ld WASI command modules.
	ToolchainConfig struct {
		Clang FilePath `json:"clang" mapstructure:"clang"`
		LLD   FilePath `json:"lld" mapstructure:"lld"`
		// CacheDir holds wazero's compiled machine code. Empty disables it.
		CacheDir FilePath `json:"cache_dir" mapstructure:"cache_dir"`
	}

	// SysrootConfig locates the sysroot tarball.
	SysrootConfig struct {
		// Location is a local path or an http(s) URL.
		Location FilePath `json:"location" mapstructure:"location"`
		// Digest is "sha256:<hex>" or "blake3:<hex>". Empty skips verification.
		Digest string `json:"digest" mapstructure:"digest"`
	}

	// CompileConfig holds per-job defaults.
	CompileConfig struct {
		// Flags are prepended to the flags of every job.
		Flags []string `json:"flags" mapstructure:"flags"`
		// DriverProgram is argv[0] of the compiler sandbox.
		DriverProgram string `json:"driver_program" mapstructure:"driver_program"`
		// LinkerProgram is argv[0] of the linker sandbox.
		LinkerProgram string `json:"linker_program" mapstructure:"linker_program"`
		// Timeout bounds a single compile job.
		Timeout Timeout `json:"timeout" mapstructure:"timeout"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables debug logging
		Verbose bool `json:"verbose" mapstructure:"verbose"`
		// Progress shows a progress bar while downloading the sysroot
		Progress bool `json:"progress" mapstructure:"progress"`
	}
)

// IsValid returns whether the Config has valid fields.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	for field, p := range map[string]FilePath{
		"toolchain.clang":     c.Toolchain.Clang,
		"toolchain.lld":       c.Toolchain.LLD,
		"toolchain.cache_dir": c.Toolchain.CacheDir,
		"sysroot.location":    c.Sysroot.Location,
	} {
		if valid, fieldErrs := p.isValid(field); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if valid, fieldErrs := c.Compile.Timeout.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// String returns the string representation of the FilePath.
func (p FilePath) String() string { return string(p) }

func (p FilePath) isValid(field string) (bool, []error) {
	if p != "" && strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidFilePathError{Field: field, Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidFilePathError.
func (e *InvalidFilePathError) Error() string {
	return fmt.Sprintf("%s: invalid path %q: non-empty value must not be whitespace-only", e.Field, e.Value)
}

// Unwrap returns ErrInvalidFilePath for errors.Is() compatibility.
func (e *InvalidFilePathError) Unwrap() error { return ErrInvalidFilePath }

// Duration returns the parsed timeout; zero when unset.
func (t Timeout) Duration() (time.Duration, error) {
	if t == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(string(t))
	if err != nil {
		return 0, &InvalidTimeoutError{Value: t, Err: err}
	}
	if d < 0 {
		return 0, &InvalidTimeoutError{Value: t, Err: errors.New("negative duration")}
	}
	return d, nil
}

// IsValid returns whether the Timeout parses as a non-negative duration.
func (t Timeout) IsValid() (bool, []error) {
	if _, err := t.Duration(); err != nil {
		return false, []error{err}
	}
	return true, nil
}

// Error implements the error interface for InvalidTimeoutError.
func (e *InvalidTimeoutError) Error() string {
	return fmt.Sprintf("invalid timeout %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidTimeout for errors.Is() compatibility.
func (e *InvalidTimeoutError) Unwrap() error { return ErrInvalidTimeout }

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Toolchain: ToolchainConfig{
			Clang:    "clang.wasm",
			LLD:      "lld.wasm",
			CacheDir: "", // Will use DefaultCacheDir() if empty
		},
		Sysroot: SysrootConfig{
			Location: "sysroot.tar",
		},
		Compile: CompileConfig{
			Flags:         []string{},
			DriverProgram: "clang++",
			LinkerProgram: "wasm-ld",
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
			Progress:    true,
		},
	}
}
