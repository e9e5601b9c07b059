// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/wasmcc/internal/config"
	"github.com/invowk/wasmcc/internal/sysroot"
)

// settableKeys lists the keys accepted by `config set`, in display order.
var settableKeys = []string{
	"toolchain.clang",
	"toolchain.lld",
	"toolchain.cache_dir",
	"sysroot.location",
	"sysroot.digest",
	"compile.driver_program",
	"compile.linker_program",
	"compile.timeout",
	"ui.color_scheme",
	"ui.verbose",
	"ui.progress",
}

// newConfigCommand creates the `wasmcc config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage wasmcc configuration",
		Long: `Manage wasmcc configuration.

Configuration is stored in:
  - Linux: ~/.config/wasmcc/config.cue
  - macOS: ~/Library/Application Support/wasmcc/config.cue
  - Windows: %APPDATA%\wasmcc\config.cue

Environment variables named WASMCC_<SECTION>_<FIELD> override file values,
e.g. WASMCC_SYSROOT_LOCATION.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := showConfig(cmd.Context(), app); err != nil {
				return app.fail(cmd, err, 1)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(app); err != nil {
				return app.fail(cmd, err, 1)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value and save the file.\n\nValid keys:\n  " + strings.Join(settableKeys, "\n  "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setConfigValue(cmd.Context(), app, args[0], args[1]); err != nil {
				return app.fail(cmd, err, 1)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err, 1)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	w := app.stdout

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	cfgPath := app.configPath
	if cfgPath == "" {
		if p, pathErr := config.ConfigFilePath(); pathErr == nil && fileExistsCheck(p) {
			cfgPath = p
		}
	}
	if cfgPath != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), cfgPath)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}

	show := func(key, value string) {
		if value == "" {
			fmt.Fprintf(w, "  %s: %s\n", key, SubtitleStyle.Render("(unset)"))
			return
		}
		fmt.Fprintf(w, "  %s: %s\n", key, valueStyle.Render(value))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("toolchain"))
	show("clang", cfg.Toolchain.Clang.String())
	show("lld", cfg.Toolchain.LLD.String())
	show("cache_dir", cfg.Toolchain.CacheDir.String())

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("sysroot"))
	show("location", cfg.Sysroot.Location.String())
	show("digest", cfg.Sysroot.Digest)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("compile"))
	show("flags", strings.Join(cfg.Compile.Flags, " "))
	show("driver_program", cfg.Compile.DriverProgram)
	show("linker_program", cfg.Compile.LinkerProgram)
	show("timeout", string(cfg.Compile.Timeout))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("ui"))
	show("color_scheme", cfg.UI.ColorScheme.String())
	show("verbose", fmt.Sprintf("%v", cfg.UI.Verbose))
	show("progress", fmt.Sprintf("%v", cfg.UI.Progress))

	return nil
}

func initConfig(app *App) error {
	created, err := config.CreateDefaultConfig()
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	cfgPath, err := config.ConfigFilePath()
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(app.stdout, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), cfgPath)
		return nil
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), cfgPath)
	return nil
}

func showConfigPath(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	cfgPath, err := config.ConfigFilePath()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(app.stdout, "Config file: %s\n", cfgPath)
	if cacheDir, cacheErr := config.DefaultCacheDir(); cacheErr == nil {
		fmt.Fprintf(app.stdout, "Default cache directory: %s\n", cacheDir)
	}
	return nil
}

func setConfigValue(ctx context.Context, app *App, key, value string) error {
	cfg, err := app.Config.Load(ctx, config.LoadOptions{ConfigFilePath: app.configPath})
	if err != nil {
		return err
	}

	switch key {
	case "toolchain.clang":
		cfg.Toolchain.Clang = config.FilePath(value)
	case "toolchain.lld":
		cfg.Toolchain.LLD = config.FilePath(value)
	case "toolchain.cache_dir":
		cfg.Toolchain.CacheDir = config.FilePath(value)
	case "sysroot.location":
		cfg.Sysroot.Location = config.FilePath(value)
	case "sysroot.digest":
		if _, err := sysroot.ParseDigest(value); err != nil {
			return err
		}
		cfg.Sysroot.Digest = value
	case "compile.driver_program":
		cfg.Compile.DriverProgram = value
	case "compile.linker_program":
		cfg.Compile.LinkerProgram = value
	case "compile.timeout":
		cfg.Compile.Timeout = config.Timeout(value)
	case "ui.color_scheme":
		cfg.UI.ColorScheme = config.ColorScheme(value)
	case "ui.verbose":
		cfg.UI.Verbose = value == "true" || value == "1"
	case "ui.progress":
		cfg.UI.Progress = value == "true" || value == "1"
	default:
		return fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(settableKeys, ", "))
	}

	if ok, errs := cfg.IsValid(); !ok {
		var invalid *config.InvalidConfigError
		if errors.As(errs[0], &invalid) {
			return fmt.Errorf("%w: %w", invalid, errors.Join(invalid.FieldErrors...))
		}
		return errors.Join(errs...)
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Set %s = %s\n", SuccessStyle.Render("✓"), key, value)
	return nil
}

// fileExistsCheck checks if a file exists and is not a directory.
func fileExistsCheck(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
