package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/models"
	"github.com/popgen/structure-threader/internal/pipeline"
	"github.com/popgen/structure-threader/internal/plot"
)

type plotOptions struct {
	results      string
	program      string
	kList        string
	output       string
	popFile      string
	indFile      string
	replicates   int
	greyscale    bool
	useIndLabels bool
	seed         int64
}

// newPlotCmd creates the 'plot' command, which redraws plots from an
// existing results directory without running any program.
func newPlotCmd() *cobra.Command {
	return plotCommand(&plotOptions{})
}

func plotCommand(o *plotOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Draw plots from existing results",
		Long: `Draw one bar plot per K and a comparison figure from the Q-matrices of a
previous run.

Examples:
  structure_threader plot -i results -p faststructure -K "2 3 4" --pop pops.txt
  structure_threader plot -i results -p structure -K 2,3 -R 10 --ind inds.txt --use-ind-labels`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlot(cmd, o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.results, "input", "i", "", "Directory with the results to plot")
	flags.StringVarP(&o.program, "program", "p", "", "Program that produced the results: structure or faststructure")
	flags.StringVarP(&o.kList, "Klist", "K", "", `K values to plot, e.g. "2 3 4"`)
	flags.StringVarP(&o.output, "output", "o", ".", "Directory where plots will be written")
	flags.StringVar(&o.popFile, "pop", "", "File with population information")
	flags.StringVar(&o.indFile, "ind", "", "File with individual information")
	flags.IntVarP(&o.replicates, "replicates", "R", 1, "Replicates available per K (structure only)")
	flags.Int64Var(&o.seed, "seed", 0, "Seed for the replicate picked per K (default from threader.ini)")
	flags.BoolVar(&o.greyscale, "bw", false, "Draw greyscale plots")
	flags.BoolVar(&o.useIndLabels, "use-ind-labels", false, "Use individual labels instead of population labels")

	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("program")
	cmd.MarkFlagRequired("Klist")
	cmd.MarkFlagsMutuallyExclusive("pop", "ind")
	cmd.MarkFlagsOneRequired("pop", "ind")

	return cmd
}

func buildPlotConfig(cmd *cobra.Command, o *plotOptions, h *config.HarnessConfig) (config.RunConfiguration, error) {
	kind, err := models.ParseProgramKind(o.program)
	if err != nil {
		return config.RunConfiguration{}, &config.ConfigError{Field: "program", Msg: "invalid program", Err: err}
	}
	if kind != models.Structure && kind != models.FastStructure {
		return config.RunConfiguration{}, config.Errorf("program", "plotting is not supported for %s results", kind)
	}

	kList, err := parseIntList(o.kList)
	if err != nil {
		return config.RunConfiguration{}, &config.ConfigError{Field: "k", Msg: "invalid K list", Err: err}
	}
	if len(kList) == 0 {
		return config.RunConfiguration{}, config.Errorf("k", "at least one K value is required")
	}
	if o.replicates < 1 {
		return config.RunConfiguration{}, config.Errorf("replicates", "replicates must be >= 1, got %d", o.replicates)
	}

	seed := h.Run.Seed
	if cmd.Flags().Changed("seed") {
		seed = o.seed
	}

	return config.RunConfiguration{
		Program:      kind,
		OutputDir:    o.output,
		KList:        kList,
		Replicates:   o.replicates,
		MasterSeed:   &seed,
		PopFile:      o.popFile,
		IndFile:      o.indFile,
		Greyscale:    o.greyscale,
		UseIndLabels: o.useIndLabels,
	}, nil
}

func runPlot(cmd *cobra.Command, o *plotOptions) error {
	log := GetLogger()
	h := GetHarness()

	cfg, err := buildPlotConfig(cmd, o, h)
	if err != nil {
		return err
	}

	controller := pipeline.New(cfg,
		pipeline.WithLogger(log),
		pipeline.WithRenderer(plot.NewRenderer(h.Plot, log)),
	)
	res, err := controller.RunPlots(GetContext(), o.results)
	if err != nil {
		return err
	}
	if err := stageErrors(res); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Plots written to %s\n", cfg.OutputDir)
	return nil
}
