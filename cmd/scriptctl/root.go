package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keshon/mycelium/internal/host"
	"github.com/keshon/mycelium/internal/logging"
	"github.com/keshon/mycelium/internal/metadata"
	"github.com/keshon/mycelium/internal/script"
)

var errInvalid = errors.New("scripts directory has problems")

type options struct {
	dir      string
	disabled []string
	verbose  bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "scriptctl",
		Short:         "Inspect and validate bot scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&opts.dir, "dir", "d", "./scripts", "scripts directory")
	root.PersistentFlags().StringSliceVar(&opts.disabled, "disable", nil, "script file names to treat as disabled")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every pipeline step")

	root.AddCommand(newValidateCmd(opts), newListCmd(opts))
	return root
}

func (o *options) build(ctx context.Context) (*host.Result, error) {
	logger := logging.Discard()
	if o.verbose {
		logger = log.Default()
		logger.SetLevel(log.DebugLevel)
	}
	return host.Build(ctx, host.Config{
		ScriptsDir: o.dir,
		Disabled:   o.disabled,
		Policy:     script.PolicyShared,
	}, logger)
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load every script and report metadata and load errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			if problems := printReport(cmd.OutOrStdout(), res); problems > 0 {
				return fmt.Errorf("%w: %d problem(s)", errInvalid, problems)
			}
			return nil
		},
	}
}

// printReport writes a human summary and returns the number of problems.
// Scripts without a metadata block are helpers, not problems.
func printReport(w io.Writer, res *host.Result) int {
	problems := 0
	fmt.Fprintf(w, "%d script(s) loaded, %d command(s), %d event handler(s)\n",
		len(res.Generation.Scripts), res.Report.Commands, res.Report.Events)
	for _, name := range res.Report.Disabled {
		fmt.Fprintf(w, "  disabled  %s\n", name)
	}
	for _, f := range res.Report.Skipped {
		if errors.Is(f.Err, metadata.ErrNoMetadata) {
			fmt.Fprintf(w, "  helper    %s\n", f.Script)
			continue
		}
		problems++
		fmt.Fprintf(w, "  invalid   %s: %v\n", f.Script, f.Err)
	}
	for _, f := range res.Report.Partial {
		problems++
		fmt.Fprintf(w, "  partial   %s: %v\n", f.Script, f.Err)
	}
	for _, f := range res.LoadFailures {
		problems++
		fmt.Fprintf(w, "  failed    %s: %v\n", f.Script, f.Err)
	}
	for _, o := range res.Report.Overrides {
		fmt.Fprintf(w, "  override  /%s from %s replaced by %s\n", o.Command, o.Previous, o.Script)
	}
	for _, warn := range res.Report.Warnings {
		fmt.Fprintf(w, "  warning   %s\n", warn)
	}
	return problems
}

// listing is the machine-readable form of a registry.
type listing struct {
	Commands []metadata.Command      `json:"commands" yaml:"commands"`
	Events   []metadata.EventBinding `json:"events" yaml:"events"`
}

func newListCmd(opts *options) *cobra.Command {
	var format string
	c := &cobra.Command{
		Use:   "list",
		Short: "List the commands and event handlers the scripts register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			l := listing{Commands: res.Commands()}
			for _, tag := range metadata.KnownEvents {
				l.Events = append(l.Events, res.Generation.Registry.BindingsFor(tag)...)
			}
			return writeListing(cmd.OutOrStdout(), l, format)
		},
	}
	c.Flags().StringVarP(&format, "output", "o", "table", "output format: table, yaml or json")
	return c
}

func writeListing(w io.Writer, l listing, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(l); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tNAME\tHANDLER\tSCRIPT")
		for _, c := range l.Commands {
			fmt.Fprintf(tw, "command\t/%s\t%s\t%s\n", c.Name, c.Handler, c.Script)
		}
		for _, e := range l.Events {
			fmt.Fprintf(tw, "event\t%s\t%s\t%s\n", e.Event, e.Handler, e.Script)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
