// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/invowk/wasmcc/internal/cueutil"
	"github.com/invowk/wasmcc/internal/issue"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "wasmcc"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. WASMCC_SYSROOT_LOCATION.
	EnvPrefix = "WASMCC"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the wasmcc configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	// Allow tests to override the config directory
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DefaultCacheDir returns the directory used for wazero's compilation cache
// when toolchain.cache_dir is not configured.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(dir, AppName, "wazero"), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level cache state. Callers that want caching can wrap this function.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("toolchain.clang", defaults.Toolchain.Clang)
	v.SetDefault("toolchain.lld", defaults.Toolchain.LLD)
	v.SetDefault("toolchain.cache_dir", defaults.Toolchain.CacheDir)
	v.SetDefault("sysroot.location", defaults.Sysroot.Location)
	v.SetDefault("sysroot.digest", defaults.Sysroot.Digest)
	v.SetDefault("compile.flags", defaults.Compile.Flags)
	v.SetDefault("compile.driver_program", defaults.Compile.DriverProgram)
	v.SetDefault("compile.linker_program", defaults.Compile.LinkerProgram)
	v.SetDefault("compile.timeout", defaults.Compile.Timeout)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("ui.progress", defaults.UI.Progress)

	resolvedPath := ""

	// A config file given with --config is used exclusively.
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'wasmcc config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, opts.ConfigFilePath); err != nil {
			return nil, "", schemaError(opts.ConfigFilePath, err)
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}

		for _, candidate := range []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			ConfigFileName + "." + ConfigFileExt,
		} {
			if !fileExists(candidate) {
				continue
			}
			if err := loadCUEIntoViper(v, candidate); err != nil {
				return nil, "", schemaError(candidate, err)
			}
			resolvedPath = candidate
			break
		}
		// If no config file found, use defaults (no error)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	// Whitespace-only paths and unparsable timeouts can still arrive via
	// environment overrides, which bypass the schema.
	if valid, errs := cfg.IsValid(); !valid {
		ctxErr := issue.NewErrorContext().
			WithOperation("validate configuration").
			WithSuggestion("Check WASMCC_* environment variables for empty or malformed values")
		if resolvedPath != "" {
			ctxErr = ctxErr.WithResource(resolvedPath)
		}
		var fieldErrs []error
		for _, e := range errs {
			if ice, ok := e.(*InvalidConfigError); ok {
				fieldErrs = append(fieldErrs, ice.FieldErrors...)
			}
		}
		for _, e := range fieldErrs {
			ctxErr = ctxErr.WithSuggestion(e.Error())
		}
		return nil, "", ctxErr.Wrap(errs[0]).BuildError()
	}

	return &cfg, resolvedPath, nil
}

func schemaError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithSuggestion("See 'wasmcc config --help' for configuration options").
		Wrap(err).
		BuildError()
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against the #Config schema and merges
// its contents into Viper. Fields are optional, so values need not be concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	unified, err := cueutil.Unify(configSchema, data, "#Config",
		cueutil.WithConcrete(false),
		cueutil.WithFilename(path),
	)
	if err != nil {
		return err
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// ConfigFilePath returns the path of the user config file, whether or not it exists.
//
//nolint:revive // mirrors ConfigDir
func ConfigFilePath() (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt), nil
}

// CreateDefaultConfig creates a default config file if it doesn't exist.
// It reports whether a file was written.
func CreateDefaultConfig() (bool, error) {
	cfgPath, err := ConfigFilePath()
	if err != nil {
		return false, err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		return false, nil
	}

	if err := Save(DefaultConfig()); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes the current configuration to file
func Save(cfg *Config) error {
	cfgPath, err := ConfigFilePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// wasmcc configuration file\n")
	sb.WriteString("// Environment variables named WASMCC_<SECTION>_<FIELD> override these values.\n")

	sb.WriteString("\ntoolchain: {\n")
	fmt.Fprintf(&sb, "\tclang: %q\n", cfg.Toolchain.Clang)
	fmt.Fprintf(&sb, "\tlld: %q\n", cfg.Toolchain.LLD)
	if cfg.Toolchain.CacheDir != "" {
		fmt.Fprintf(&sb, "\tcache_dir: %q\n", cfg.Toolchain.CacheDir)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nsysroot: {\n")
	fmt.Fprintf(&sb, "\tlocation: %q\n", cfg.Sysroot.Location)
	if cfg.Sysroot.Digest != "" {
		fmt.Fprintf(&sb, "\tdigest: %q\n", cfg.Sysroot.Digest)
	}
	sb.WriteString("}\n")

	sb.WriteString("\ncompile: {\n")
	sb.WriteString("\tflags: [")
	for i, f := range cfg.Compile.Flags {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", f)
	}
	sb.WriteString("]\n")
	fmt.Fprintf(&sb, "\tdriver_program: %q\n", cfg.Compile.DriverProgram)
	fmt.Fprintf(&sb, "\tlinker_program: %q\n", cfg.Compile.LinkerProgram)
	if cfg.Compile.Timeout != "" {
		fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.Compile.Timeout)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	fmt.Fprintf(&sb, "\tprogress: %v\n", cfg.UI.Progress)
	sb.WriteString("}\n")

	return sb.String()
}
