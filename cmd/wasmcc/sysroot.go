// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/invowk/wasmcc/internal/sysroot"
)

func newSysrootCommand(app *App) *cobra.Command {
	sysCmd := &cobra.Command{
		Use:   "sysroot",
		Short: "Inspect the sysroot archive",
		Long: `Inspect the sysroot archive staged into every sandbox.

The location comes from sysroot.location in the config unless given
as an argument. Local paths and http(s) URLs are accepted; .gz, .zst
and .lz4 suffixes select the decompressor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	sysCmd.AddCommand(&cobra.Command{
		Use:   "ls [location]",
		Short: "List the files in the sysroot archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSysroot(cmd, app, args)
		},
	})

	var algorithm string
	digestCmd := &cobra.Command{
		Use:   "digest [location]",
		Short: "Print the digest to pin in sysroot.digest",
		Long: `Print the digest of the sysroot archive as downloaded, before
decompression. Put the output in sysroot.digest to verify every fetch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return digestSysroot(cmd, app, args, sysroot.DigestAlgorithm(algorithm))
		},
	}
	digestCmd.Flags().StringVar(&algorithm, "algorithm", string(sysroot.AlgorithmSHA256), "hash algorithm (sha256 or blake3)")
	sysCmd.AddCommand(digestCmd)

	return sysCmd
}

func listSysroot(cmd *cobra.Command, app *App, args []string) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	location := cfg.Sysroot.Location.String()
	if len(args) == 1 {
		location = args[0]
	}
	// An explicit location is not covered by the configured digest.
	src, err := openSysroot(cfg, location, app.stderr, len(args) == 0)
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	data, err := src.Fetch(ctx)
	if err != nil {
		return app.fail(cmd, err, 1)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtitleStyle).
		Headers("PATH", "TYPE", "SIZE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 2 {
				return tableCellStyle.Align(lipgloss.Right)
			}
			return tableCellStyle
		})

	var files, total int
	for e := range sysroot.Entries(data) {
		kind, size := "file", strconv.Itoa(len(e.Content))
		if e.IsDir() {
			kind, size = "dir", ""
		} else {
			files++
			total += len(e.Content)
		}
		t.Row(e.Name, kind, size)
	}

	fmt.Fprintln(app.stdout, t.Render())
	fmt.Fprintf(app.stdout, "%s\n", SubtitleStyle.Render(fmt.Sprintf("%d files, %d bytes", files, total)))
	return nil
}

func digestSysroot(cmd *cobra.Command, app *App, args []string, algo sysroot.DigestAlgorithm) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	location := cfg.Sysroot.Location.String()
	if len(args) == 1 {
		location = args[0]
	}

	// Hash the bytes as fetched, matching what sysroot.digest verifies.
	src, err := openSysroot(cfg, location, app.stderr, false, sysroot.WithCompression(sysroot.CompressionNone))
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	data, err := src.Fetch(ctx)
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	d, err := sysroot.Compute(algo, data)
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	fmt.Fprintln(app.stdout, d.String())
	return nil
}
