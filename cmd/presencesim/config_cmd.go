package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/fentz26/presencesim/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the simulation configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the live configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Persist configuration overrides",
	Example: `  presencesim config set window_start=19:00 window_end=23:00
  presencesim config set entities=light.kitchen,switch.porch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var cfg config.SimConfig
	if err := apiGet("/api/config", &cfg); err != nil {
		return err
	}
	printConfig(cfg)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	patch, err := config.ParseAssignments(args)
	if err != nil {
		return err
	}

	var cfg config.SimConfig
	if err := apiPost("/api/config", patch, &cfg); err != nil {
		return err
	}
	fmt.Println("Configuration updated")
	printConfig(cfg)
	return nil
}

func printConfig(cfg config.SimConfig) {
	m := cfg.ToMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, m[k])
	}
	w.Flush()
}
