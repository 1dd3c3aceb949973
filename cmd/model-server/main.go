package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuberlab/kserve-deployer/pkg/modelserver"
	"github.com/kuberlab/kserve-deployer/pkg/plugins"
	"github.com/kuberlab/kserve-deployer/pkg/steps"
	"github.com/kuberlab/kserve-deployer/pkg/utils"
	"github.com/prometheus/common/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const programName = "model-server"

type serverOptions struct {
	module      string
	modelName   string
	predictFunc string
	modelDir    string
	httpPort    int
	logLevel    string
	version     bool
}

func newServerCommand() *cobra.Command {
	opts := &serverOptions{}
	cmd := &cobra.Command{
		Use:           programName,
		Short:         "Serve a custom model over the KServe V1 protocol.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.version {
				fmt.Fprintln(cmd.OutOrStdout(), version.Print(programName))
				return nil
			}
			utils.SetupLogging(opts.logLevel)
			return runServer(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.module, "module", "m", steps.CustomModelModule, "Model server module")
	flags.StringVar(&opts.modelName, "model_name", modelserver.DefaultModelName, "The name of the model to serve")
	flags.StringVar(&opts.predictFunc, "predict_func", "", fmt.Sprintf("The registered predict function, one of %v", plugins.PredictFuncs()))
	flags.StringVar(&opts.modelDir, "model_dir", modelserver.DefaultModelDir, "The directory where the model is stored locally")
	flags.IntVar(&opts.httpPort, "http_port", 8080, "The HTTP port")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (defaults to LOG_LEVEL or info)")
	flags.BoolVarP(&opts.version, "version", "v", false, "Print version information and quit")
	return cmd
}

func runServer(ctx context.Context, opts *serverOptions) error {
	if opts.module != steps.CustomModelModule {
		return fmt.Errorf("unknown module %q, only %q is supported", opts.module, steps.CustomModelModule)
	}
	if opts.predictFunc == "" {
		return fmt.Errorf("--predict_func is required")
	}
	model, err := modelserver.NewCustomModelByName(opts.modelName, opts.modelDir, opts.predictFunc)
	if err != nil {
		return err
	}
	if uri := os.Getenv(utils.StorageURI); uri != "" {
		logrus.Infof("Model %v is stored at %v", opts.modelName, uri)
	}
	// A failed model keeps serving so readiness reports the failure.
	model.Load()

	server := modelserver.NewServer(model)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(fmt.Sprintf(":%v", opts.httpPort))
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logrus.Infof("Got %v, shutting down", s)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	if err := newServerCommand().ExecuteContext(context.Background()); err != nil {
		logrus.Error(err)
		utils.LogExit(1)
	}
}
