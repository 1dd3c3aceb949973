package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/predictclient"
	"github.com/kuberlab/kserve-deployer/pkg/steps"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type deployOptions struct {
	stepConfig string
	env        steps.StepEnvironment
	decision   bool
	modelURI   string
	outputURI  string
}

func newDeployCommand(global *globalOptions) *cobra.Command {
	opts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the deployer step for a trained model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, global, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.stepConfig, "step-config", "f", "", "Deployer step configuration file")
	flags.StringVar(&opts.env.PipelineName, "pipeline", "", "Pipeline name")
	flags.StringVar(&opts.env.StepName, "step", "", "Pipeline step name")
	flags.StringVar(&opts.env.PipelineRunID, "run-id", "", "Pipeline run id")
	flags.BoolVar(&opts.decision, "decision", true, "Deploy the new model; when false an existing model server is kept")
	flags.StringVar(&opts.modelURI, "model-uri", "", "URI of the model artifact")
	flags.StringVar(&opts.outputURI, "output-uri", "", "Local directory where the TorchServe model store of a pytorch model is staged")
	for _, f := range []string{"step-config", "pipeline", "step", "model-uri"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func runDeploy(cmd *cobra.Command, global *globalOptions, opts *deployOptions) error {
	cfg, err := steps.LoadStepConfig(opts.stepConfig)
	if err != nil {
		return err
	}
	a, err := newApp(global)
	if err != nil {
		return err
	}
	defer a.Close()

	builder := &steps.Builder{SourceRoot: a.config.SourceRoot, DefaultImage: a.config.CustomModelImage}
	reconciler := deployment.NewReconciler(a.deployer)

	svc, err := steps.RunDeployerStep(
		cmd.Context(), reconciler, opts.env, opts.decision, *cfg, builder, opts.modelURI, opts.outputURI,
	)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), describe(svc))
}

func newFindCommand(global *globalOptions) *cobra.Command {
	var id deployment.ServiceIdentity
	cmd := &cobra.Command{
		Use:   "find",
		Short: "List model servers deployed by a pipeline step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			services, err := a.deployer.Find(cmd.Context(), id)
			if err != nil {
				return err
			}
			infos := make([]serviceInfo, 0, len(services))
			for _, svc := range services {
				infos = append(infos, describe(svc))
			}
			return printJSON(cmd.OutOrStdout(), infos)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&id.PipelineName, "pipeline", "", "Pipeline name")
	flags.StringVar(&id.PipelineStepName, "step", "", "Pipeline step name")
	flags.StringVar(&id.ModelName, "model", "", "Model name")
	return cmd
}

func newStartCommand(global *globalOptions) *cobra.Command {
	return newLifecycleCommand(global, "start", "Start a stopped model server", func(ctx context.Context, svc deployment.Service, a *app) error {
		return svc.Start(ctx, a.config.Timeout())
	})
}

func newStopCommand(global *globalOptions) *cobra.Command {
	return newLifecycleCommand(global, "stop", "Stop a model server and keep its record", func(ctx context.Context, svc deployment.Service, a *app) error {
		return svc.Stop(ctx, a.config.Timeout())
	})
}

func newLifecycleCommand(global *globalOptions, use, short string, action func(context.Context, deployment.Service, *app) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " UUID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.deployer.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := action(cmd.Context(), svc, a); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), describe(svc))
		},
	}
}

func newPredictCommand(global *globalOptions) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "predict UUID",
		Short: "Send a prediction request to a model server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(data)
			if data == "-" {
				var err error
				if raw, err = ioutil.ReadAll(os.Stdin); err != nil {
					return err
				}
			}
			request := map[string]interface{}{}
			if err := json.Unmarshal(raw, &request); err != nil {
				return fmt.Errorf("Failed parse request: %v", err)
			}

			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.deployer.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !svc.IsRunning() {
				logrus.Warningf("Model server %v is not running", svc.ResourceName())
			}
			if svc.PredictionURL() == "" {
				return fmt.Errorf("model server %v has no address yet", svc.ResourceName())
			}
			client, model, err := predictclient.NewClientForURL(svc.PredictionURL(), &predictclient.Options{
				Host: svc.PredictionHostname(),
			})
			if err != nil {
				return err
			}
			res, err := client.Predict(cmd.Context(), model, request)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "{}", "Request body as JSON, or - to read stdin")
	return cmd
}
