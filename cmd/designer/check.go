package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pitabwire/designer/internal/config"
	"github.com/pitabwire/designer/internal/definition"
)

var checkCmd = &cobra.Command{
	Use:   "check [directory...]",
	Short: "Validate designer definition files",
	Long: `Loads every designer definition under the given directories, or under the
directories named in the configuration file when none are given, and reports
structural problems per definition.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs := args
		if len(dirs) == 0 {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			dirs = cfg.Definitions.Directories
		}

		problems, err := checkDefinitions(cmd.OutOrStdout(), dirs)
		if err != nil {
			return err
		}
		if problems > 0 {
			return fmt.Errorf("%d definition problem(s) found", problems)
		}
		return nil
	},
}

// checkDefinitions writes a per-definition report to w and returns the
// number of validation problems found. A definition that cannot be loaded
// at all is returned as an error.
func checkDefinitions(w io.Writer, dirs []string) (int, error) {
	ok := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	dim := color.New(color.FgHiBlack)

	defs, err := definition.NewLoader().LoadAll(dirs)
	if err != nil {
		fail.Fprint(w, "ERROR ")
		fmt.Fprintln(w, err)
		return 0, fmt.Errorf("definition loading failed: %w", err)
	}
	if len(defs) == 0 {
		color.New(color.FgYellow).Fprintf(w, "no designer definitions found in %s\n", strings.Join(dirs, ", "))
		return 0, nil
	}

	byDef := make(map[int][]definition.VError)
	for _, ve := range definition.NewValidator().Validate(defs) {
		var i int
		if _, err := fmt.Sscanf(ve.Path, "definitions[%d]", &i); err != nil {
			i = -1
		}
		byDef[i] = append(byDef[i], ve)
	}

	problems := 0
	for i, def := range defs {
		verrs := byDef[i]
		if len(verrs) == 0 {
			ok.Fprint(w, "OK    ")
		} else {
			fail.Fprint(w, "FAIL  ")
		}
		fmt.Fprintf(w, "%-12s %d panel(s) ", def.Kind, len(def.Panels))
		dim.Fprintf(w, "%s\n", def.SourceFile)

		for _, ve := range verrs {
			fmt.Fprintf(w, "      %s %s: %s\n", fail.Sprint(ve.Code), ve.Path, ve.Message)
		}
		problems += len(verrs)
	}
	for _, ve := range byDef[-1] {
		fmt.Fprintf(w, "      %s %s: %s\n", fail.Sprint(ve.Code), ve.Path, ve.Message)
		problems++
	}

	fmt.Fprintf(w, "\n%d definition(s), %d problem(s)\n", len(defs), problems)
	return problems, nil
}
