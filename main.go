package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudflare/cfssl/log"
	sentry "github.com/getsentry/sentry-go"
	"go.keploy.io/httpengine/cli"
	"go.keploy.io/httpengine/cli/provider"
	"go.keploy.io/httpengine/config"
	"go.keploy.io/httpengine/pkg/models"
	"go.keploy.io/httpengine/utils"
	utilsLog "go.keploy.io/httpengine/utils/log"
)

// version is the version of the server and will be injected during build by ldflags
// see https://goreleaser.com/customization/build/

var version string
var dsn string

const logo string = `
 _     _   _
| |__ | |_| |_ _ __   ___ _ __   __ _(_)_ __   ___
| '_ \| __| __| '_ \ / _ \ '_ \ / _' | | '_ \ / _ \
| | | | |_| |_| |_) |  __/ | | | (_| | | | | |  __/
|_| |_|\__|\__| .__/ \___|_| |_|\__, |_|_| |_|\___|
              |_|               |___/
`

func main() {
	if version == "" {
		version = "1-dev"
	}
	utils.Version = version

	// Initialize sentry.
	log.Level = log.LevelError
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          version,
		TracesSampleRate: 1.0,
	}); err != nil {
		log.Debug("Could not initialize sentry.", err)
	}
	defer utils.HandlePanic()
	defer sentry.Flush(2 * time.Second)

	start(utils.NewCtx())
}

func printLogo() {
	if os.Getenv("HTTPENGINE_NO_LOGO") != "" {
		return
	}
	fmt.Println(models.HighlightString(logo))
	fmt.Printf("version: %v\n\n", version)
}

func start(ctx context.Context) {
	printLogo()

	logger, logFile, err := utilsLog.New()
	if err != nil {
		fmt.Println("Failed to start the logger for the CLI", err)
		return
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			utils.LogError(logger, err, "Failed to close the log file")
		}
	}()

	conf := config.New()
	svcProvider := provider.NewServiceProvider(logger, conf)
	cmdConfigurator := provider.NewCmdConfigurator(logger, conf)

	rootCmd := cli.Root(ctx, logger, conf, svcProvider, cmdConfigurator)
	if rootCmd == nil {
		return
	}
	if err := rootCmd.Execute(); err != nil {
		if strings.HasPrefix(err.Error(), "unknown command") || strings.HasPrefix(err.Error(), "unknown shorthand") {
			fmt.Println("Error: ", err.Error())
			fmt.Println("Run 'httpengine --help' for usage.")
		}
		_ = utils.Stop(logger, "command failed")
		os.Exit(1)
	}
}
