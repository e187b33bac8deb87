package commands

import (
	"fmt"
	"runtime"

	"github.com/harunnryd/sarvamrelay/pkg/runner"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sarvamrelay %s (%s)\n", runner.Version, runtime.Version())
			return err
		},
	}
}
