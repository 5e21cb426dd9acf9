package cli

import (
	"context"
	"sort"

	"github.com/spf13/cobra"
	"go.keploy.io/httpengine/cli/provider"
	"go.keploy.io/httpengine/config"
	"go.keploy.io/httpengine/utils"
	"go.uber.org/zap"
)

func Root(ctx context.Context, logger *zap.Logger, conf *config.Config, svcFactory ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:     "httpengine",
		Short:   "HTTP/1.1 and HTTP/2 server engine",
		Example: provider.RootExamples,
		Version: utils.Version,
	}

	rootCmd.SetHelpTemplate(provider.RootCustomHelpTemplate)
	rootCmd.SetVersionTemplate(provider.VersionTemplate)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := cmdConfigurator.AddFlags(rootCmd); err != nil {
		utils.LogError(logger, err, "failed to set flags")
		return nil
	}

	names := make([]string, 0, len(Registered))
	for name := range Registered {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := Registered[name](ctx, logger, conf, svcFactory, cmdConfigurator)
		if c == nil {
			continue
		}
		rootCmd.AddCommand(c)
	}
	return rootCmd
}
