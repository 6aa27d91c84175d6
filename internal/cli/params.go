package cli

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

//go:embed templates/mainparams templates/extraparams
var paramTemplates embed.FS

// paramFiles are the STRUCTURE parameter files written by 'params'.
var paramFiles = []string{"mainparams", "extraparams"}

type paramsOptions struct {
	output string
	force  bool
}

// newParamsCmd creates the 'params' command.
func newParamsCmd() *cobra.Command {
	o := &paramsOptions{}

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Write template mainparams and extraparams files for STRUCTURE",
		Long: `Write STRUCTURE's mainparams and extraparams templates to a directory.
Edit them for your data set before running 'structure_threader run --st'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := writeParamTemplates(o.output, o.force)
			if err != nil {
				return err
			}
			for _, path := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.output, "output", "o", ".", "Directory where the parameter files will be written")
	cmd.Flags().BoolVarP(&o.force, "force", "f", false, "Overwrite existing parameter files")

	return cmd
}

// writeParamTemplates copies the embedded templates into dir. Existing files
// are left untouched unless force is set.
func writeParamTemplates(dir string, force bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var written []string
	for _, name := range paramFiles {
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); err == nil && !force {
			return written, fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		}

		data, err := paramTemplates.ReadFile("templates/" + name)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", dest, err)
		}
		written = append(written, dest)
	}
	return written, nil
}
