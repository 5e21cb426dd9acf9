package cli

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.keploy.io/httpengine/cli/provider"
	"go.keploy.io/httpengine/config"
	"go.keploy.io/httpengine/pkg/models"
	toolsSvc "go.keploy.io/httpengine/pkg/service/tools"
	"go.keploy.io/httpengine/utils"
	"go.uber.org/zap"
)

func init() {
	Register("config", Config)
}

func Config(ctx context.Context, logger *zap.Logger, cfg *config.Config, servicefactory ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var cmd = &cobra.Command{
		Use:     "config",
		Short:   "manage the configuration file",
		Example: "httpengine config --generate --path /path/to/localdir",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := cmdConfigurator.ValidateFlags(ctx, cmd); err != nil {
				utils.LogError(logger, err, "failed to validate flags")
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			isGenerate, err := cmd.Flags().GetBool("generate")
			if err != nil {
				utils.LogError(logger, err, "failed to get generate flag")
				return err
			}
			if !isGenerate {
				return errors.New("only generate flag is supported in the config command")
			}

			filePath := filepath.Join(cfg.Path, provider.ConfigFileName)
			if utils.CheckFileExists(filePath) {
				force, err := cmd.Flags().GetBool("force")
				if err != nil {
					utils.LogError(logger, err, "failed to get force flag")
					return err
				}
				if !force {
					logger.Info("config file already exists, use "+models.HighlightGrayString("--force")+" to override it", zap.String("path", filePath))
					return nil
				}
			}

			svc, err := servicefactory.GetService(ctx, cmd.Name())
			if err != nil {
				utils.LogError(logger, err, "failed to get service")
				return err
			}
			tools, ok := svc.(toolsSvc.Service)
			if !ok {
				err := errors.New("service doesn't satisfy tools service interface")
				utils.LogError(logger, err, "service doesn't satisfy tools service interface")
				return err
			}
			if err := tools.CreateConfig(ctx, filePath, ""); err != nil {
				utils.LogError(logger, err, "failed to create config")
				return err
			}
			return nil
		},
	}
	if err := cmdConfigurator.AddFlags(cmd); err != nil {
		utils.LogError(logger, err, "failed to add flags")
		return nil
	}
	return cmd
}
