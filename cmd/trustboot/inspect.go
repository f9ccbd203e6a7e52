package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	trusttls "github.com/polisai/trustboot/internal/tls"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the merged trust anchors without installing them",
		Long: `Loads every configured store, merges them in bootstrap order and lists the
resulting trust anchors. Nothing is installed.`,
		Args: cobra.NoArgs,
		RunE: runInspect,
	}

	cmd.Flags().StringP("format", "f", "text", "Output format: text, json, yaml")

	return cmd
}

func runInspect(cmd *cobra.Command, _ []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format = strings.ToLower(format)
	if format != "text" && format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported output format %q (must be text, json, or yaml)", format)
	}

	ctx := cmd.Context()
	loader := trusttls.NewKeyStoreLoader(env.logger, nil, env.cfg.Trust.LoadTimeout)
	inputs := buildTrustInputs(env.cfg, loader, env.logger)

	results := make([]trusttls.LoadResult, 0, len(inputs.sources))
	for _, src := range inputs.sources {
		results = append(results, loader.LoadSource(ctx, src))
	}
	store := trusttls.NewTrustBootstrapper(env.logger).Merge(ctx, results...)

	anchors := trusttls.InspectStore(store, time.Now())
	return writeAnchors(cmd.OutOrStdout(), format, anchors)
}

func writeAnchors(out io.Writer, format string, anchors []trusttls.AnchorInfo) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(anchors)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer func() { _ = encoder.Close() }()
		return encoder.Encode(anchors)
	default:
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ALIAS\tSUBJECT\tSHA-256\tNOT AFTER")
		for _, anchor := range anchors {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", anchor.Alias, anchor.Subject, anchor.SHA256, anchor.NotAfter.Format(time.DateOnly))
			for _, warning := range anchor.Warnings {
				fmt.Fprintf(tw, "\t  warning: %s\t\t\n", warning)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d trust anchors\n", len(anchors))
		return nil
	}
}
