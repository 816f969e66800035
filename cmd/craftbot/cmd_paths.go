package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"craftbot/internal/paths"
)

var (
	showStats bool
	plotAux   string
)

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Recompute all crafting paths from the recipe record",
	Long: `Derives the shallowest known crafting path for every reachable element
from the full recipe record and stores the result. Run this after large
crawls; the crawler only maintains paths incrementally.

With --stats, a depth distribution report is printed and an SVG histogram is
written into the data directory.`,
	RunE: runPaths,
}

func init() {
	pathsCmd.Flags().BoolVarP(&showStats, "stats", "s", false, "Print depth statistics and write a histogram")
	pathsCmd.Flags().StringVar(&plotAux, "plot", "stats/depths.svg", "Histogram location inside the data directory")
}

func runPaths(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(true)
	if err != nil {
		return err
	}
	defer repo.Close()

	recipes, err := repo.LoadRecipes()
	if err != nil {
		return err
	}

	pathMap := paths.Compute(recipes)
	if err := repo.SavePaths(pathMap); err != nil {
		return err
	}
	logger.Info("paths computed", zap.Int("recipes", len(recipes)), zap.Int("paths", len(pathMap)))
	fmt.Printf("computed %d paths from %d recipes\n", len(pathMap), len(recipes))

	if !showStats {
		return nil
	}

	stats := paths.Describe(pathMap)
	fmt.Print(stats)
	if err := repo.SaveAux("stats/stats.txt", []byte(stats.String())); err != nil {
		return err
	}

	svg, err := paths.HistogramSVG(stats)
	if err != nil {
		return err
	}
	if err := repo.SaveAux(plotAux, svg); err != nil {
		return err
	}
	fmt.Printf("histogram written to %s\n", plotAux)
	return nil
}
