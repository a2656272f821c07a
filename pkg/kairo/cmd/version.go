package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kairo-dev/kairo/pkg/kairo/output"
	"github.com/kairo-dev/kairo/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show kairo version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			writer := cmd.OutOrStdout()
			format := output.FormatTable
			if rt, err := getRuntime(cmd); err == nil {
				writer = rt.Writer()
				if format, err = rt.OutputFormat(); err != nil {
					return err
				}
			}
			if format == output.FormatTable {
				_, err := fmt.Fprintln(writer, info.String())
				return err
			}
			return output.WriteObject(writer, format, info)
		},
	}
}
