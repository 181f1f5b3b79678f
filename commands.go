// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ffutop/scanintake/internal/config"
	"github.com/ffutop/scanintake/internal/journal"
	"github.com/ffutop/scanintake/payload"
	"github.com/ffutop/scanintake/transport/serial"
)

// flagBindings maps config keys to the command-line flags that override them.
var flagBindings = map[string]string{
	"log.level":       "log-level",
	"log.file":        "log-file",
	"mode":            "mode",
	"auto_submit":     "auto-submit",
	"serial.device":   "device",
	"serial.driver":   "driver",
	"intake.base_url": "backend",
	"journal.path":    "journal",
	"http.address":    "http",
}

type commandContext struct {
	configFile string
	config     *config.Config
}

// load reads the configuration with the command's flags bound on top and
// sets up logging.
func (c *commandContext) load(cmd *cobra.Command) (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	v := config.New(c.configFile)
	for key, name := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}
	cfg, err := config.Load(v, c.configFile != "")
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Log)
	c.config = cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "scanintake",
		Short:         "Barcode and QR scanner intake for pharmacy stock",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.load(cmd)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ctx.configFile, "config", "c", "", "Configuration file path")
	flags.StringP("log-level", "v", "info", "Log verbosity level (debug, info, warn, error)")
	flags.StringP("log-file", "L", "", "Log file name ('-' for logging to STDERR only)")

	root.AddCommand(
		newListenCommand(ctx),
		newParseCommand(),
		newPortsCommand(ctx),
		newHistoryCommand(ctx),
		newVersionCommand(),
	)
	return root
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func newListenCommand(ctx *commandContext) *cobra.Command {
	var continuous bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Open a scan session and submit what the scanner reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load(cmd)
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runListen(runCtx, cfg, continuous, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringP("mode", "m", "keyboard", "Scan mode (keyboard, serial)")
	f.Bool("auto-submit", true, "Submit each parsed scan immediately")
	f.StringP("device", "p", "", "Serial port to use instead of asking")
	f.String("driver", "gridx", "Serial driver (gridx, bugst)")
	f.String("backend", "", "Stock backend base URL")
	f.String("journal", "", "Path of the sqlite intake journal")
	f.String("http", "", "Address of the operator HTTP surface, e.g. 127.0.0.1:8081")
	f.BoolVar(&continuous, "continuous", false, "Reopen the scan mode after every scan")
	return cmd
}

func newParseCommand() *cobra.Command {
	var trace, asJSON bool
	cmd := &cobra.Command{
		Use:         "parse [text]",
		Short:       "Parse scanner text and print the extracted payload",
		Long:        "Parse scanner text given as arguments, or one scan per line from stdin.",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs []string
			if len(args) > 0 {
				inputs = []string{strings.Join(args, " ")}
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					inputs = append(inputs, sc.Text())
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}
			return printParses(cmd, inputs, trace, asJSON)
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "Show which parse strategies were tried")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

type parseRow struct {
	Input   string                  `json:"input"`
	Payload *payload.ScannedPayload `json:"payload,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
	Notes   []string                `json:"notes,omitempty"`
}

func printParses(cmd *cobra.Command, inputs []string, trace, asJSON bool) error {
	rows := make([]parseRow, 0, len(inputs))
	for _, in := range inputs {
		outcome, notes := payload.Trace(in)
		row := parseRow{Input: in, Reason: outcome.Reason}
		if outcome.OK() {
			p := outcome.Payload
			row.Payload = &p
		}
		if trace {
			row.Notes = notes
		}
		rows = append(rows, row)
	}
	if asJSON {
		return writeJSON(cmd, rows)
	}

	headers := []string{"Input", "Name", "Count", "Category"}
	if trace {
		headers = append(headers, "Strategies")
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		line := []string{r.Input, "", "", ""}
		if r.Payload != nil {
			line = []string{r.Input, r.Payload.Name, strconv.Itoa(r.Payload.Count), r.Payload.Category}
		} else {
			line[1] = "(unparseable: " + r.Reason + ")"
		}
		if trace {
			line = append(line, strings.Join(r.Notes, "; "))
		}
		table = append(table, line)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, table, []columnAlignment{alignLeft, alignLeft, alignRight}))
	return nil
}

func newPortsCommand(ctx *commandContext) *cobra.Command {
	var filtered, asJSON bool
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and whether they look like scanners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load(cmd)
			if err != nil {
				return err
			}
			host, err := serial.NewHost(cfg.Serial.Driver, cfg.Serial.PollInterval)
			if err != nil {
				return fmt.Errorf("%s: %w", serial.UserMessage(err), err)
			}
			vendorIDs, err := parseVendorIDs(cfg.Serial.VendorIDs)
			if err != nil {
				return err
			}
			ports, err := host.Ports()
			if err != nil {
				return err
			}
			if filtered {
				ports = serial.FilterByVendor(ports, vendorIDs)
			}
			return printPorts(cmd, ports, vendorIDs, asJSON)
		},
	}
	cmd.Flags().String("driver", "gridx", "Serial driver (gridx, bugst)")
	cmd.Flags().BoolVar(&filtered, "filtered", false, "Only list ports from known scanner vendors")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printPorts(cmd *cobra.Command, ports []serial.PortInfo, vendorIDs []uint16, asJSON bool) error {
	if asJSON {
		if ports == nil {
			ports = []serial.PortInfo{}
		}
		return writeJSON(cmd, ports)
	}
	if len(ports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found.")
		return nil
	}
	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		vid, pid := "-", "-"
		if p.IsUSB {
			vid, pid = fmt.Sprintf("%04x", p.VendorID), fmt.Sprintf("%04x", p.ProductID)
		}
		rows = append(rows, []string{p.Name, vid, pid, p.Product, yesNo(p.MatchesVendor(vendorIDs))})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Port", "VID", "PID", "Product", "Scanner"}, rows, nil))
	return nil
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently submitted intakes from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return fmt.Errorf("journal.path is not configured")
			}
			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd, entries, asJSON)
		},
	}
	cmd.Flags().String("journal", "", "Path of the sqlite intake journal")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printHistory(cmd *cobra.Command, entries []journal.Entry, asJSON bool) error {
	if asJSON {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return writeJSON(cmd, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No intakes recorded.")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		outcome := e.Bin
		if e.Status == journal.StatusFailed {
			outcome = e.Error
		}
		rows = append(rows, []string{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Name,
			strconv.Itoa(e.Count),
			e.Category,
			string(e.Source),
			string(e.Status),
			outcome,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Time", "Name", "Count", "Category", "Source", "Status", "Bin / Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scanintake %s\n", version)
		},
	}
}

func parseVendorIDs(values []string) ([]uint16, error) {
	ids := make([]uint16, 0, len(values))
	for _, s := range values {
		id, err := serial.ParseVendorID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
