package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.keploy.io/httpengine/config"
	serveSvc "go.keploy.io/httpengine/pkg/service/serve"
	"go.keploy.io/httpengine/utils"
	"go.uber.org/zap"
)

func init() {
	Register("serve", Serve)
}

func Serve(ctx context.Context, logger *zap.Logger, _ *config.Config, serviceFactory ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the server on the configured address. With TLS enabled the
protocol is chosen by ALPN; without it the connection preface decides.

Example usage:
  # Serve on the default address with a self-signed certificate
  httpengine serve

  # Serve cleartext HTTP/1.1 and h2c on port 8080
  httpengine serve --addr :8080 --tls=false

  # Serve with your own certificate
  httpengine serve --certFile server.crt --keyFile server.key
`,
		Example: `httpengine serve --addr :8443`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmdConfigurator.ValidateFlags(ctx, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := serviceFactory.GetService(ctx, cmd.Name())
			if err != nil {
				utils.LogError(logger, err, "failed to get service", zap.String("command", cmd.Name()))
				return err
			}
			var serve serveSvc.Service
			var ok bool
			if serve, ok = svc.(serveSvc.Service); !ok {
				err := errors.New("service doesn't satisfy serve service interface")
				utils.LogError(logger, err, "service doesn't satisfy serve service interface")
				return err
			}

			if err := serve.Start(ctx); err != nil {
				utils.LogError(logger, err, "failed to run the server")
				return err
			}
			return nil
		},
	}

	err := cmdConfigurator.AddFlags(cmd)
	if err != nil {
		utils.LogError(logger, err, "failed to add serve flags")
		return nil
	}

	return cmd
}
