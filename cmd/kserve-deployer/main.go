package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kuberlab/kserve-deployer/pkg/utils"
	"github.com/prometheus/common/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const programName = "kserve-deployer"

type globalOptions struct {
	configFile string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           programName,
		Short:         "Deploy pipeline models as KServe inference services.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.SetupLogging(opts.logLevel)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Deployer configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (defaults to LOG_LEVEL or info)")

	cmd.AddCommand(
		newDeployCommand(opts),
		newFindCommand(opts),
		newStartCommand(opts),
		newStopCommand(opts),
		newPredictCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Print(programName))
		},
	}
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		logrus.Error(err)
		utils.LogExit(1)
	}
	os.Exit(0)
}
