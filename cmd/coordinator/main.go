// Package main defines the ceremony coordinator server. The coordinator
// manages participants of a Groth16 phase 2 trusted setup: it schedules
// contributors into circuit queues, verifies their uploaded contributions and
// evicts those that block a circuit past its deadline.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/zkmpc/ceremonyd/node"
	"github.com/zkmpc/ceremonyd/runtime/version"
	"github.com/zkmpc/ceremonyd/shared/cmd"
	"github.com/zkmpc/ceremonyd/shared/flags"
	"github.com/zkmpc/ceremonyd/shared/logutil"
)

var log = logrus.WithField("prefix", "main")

func startCoordinator(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(cmd.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	coordinator, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	coordinator.Start()
	return nil
}

var appFlags = []cli.Flag{
	cmd.VerbosityFlag,
	cmd.DataDirFlag,
	cmd.EnableTracingFlag,
	cmd.TracingProcessNameFlag,
	cmd.TracingEndpointFlag,
	cmd.TraceSampleFractionFlag,
	cmd.DisableMonitoringFlag,
	cmd.MonitoringHostFlag,
	cmd.MonitoringPortFlag,
	cmd.LogFormat,
	cmd.LogFileName,
	cmd.ClearDB,
	cmd.ForceClearDB,
	cmd.ConfigFileFlag,
	flags.HTTPHost,
	flags.HTTPPort,
	flags.JWTSecretFlag,
	flags.JWTSecretFileFlag,
	flags.EmailDomainFlag,
	flags.BucketPostfixFlag,
	flags.PresignExpirationFlag,
	flags.AWSRegionFlag,
	flags.AWSAccessKeyFlag,
	flags.AWSSecretKeyFlag,
	flags.AWSEndpointFlag,
	flags.ScratchDirFlag,
}

func init() {
	appFlags = cmd.WrapFlags(appFlags)
}

func main() {
	app := cli.App{}
	app.Name = "coordinator"
	app.Usage = "launches a trusted setup ceremony coordinator server."
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = startCoordinator
	app.Before = func(ctx *cli.Context) error {
		// Load any flags from file, if specified.
		if ctx.IsSet(cmd.ConfigFileFlag.Name) {
			if err := altsrc.InitInputSourceWithContext(
				appFlags,
				altsrc.NewYamlSourceFromFlagFunc(
					cmd.ConfigFileFlag.Name))(ctx); err != nil {
				return err
			}
		}

		format := ctx.String(cmd.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as Gibberish in the log files.
			formatter.DisableColors = ctx.String(cmd.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(cmd.LogFileName.Name)
		if logFileName != "" {
			if err := logutil.ConfigurePersistentLogging(logFileName, format); err != nil {
				log.WithError(err).Error("Failed to configuring logging to disk.")
			}
		}

		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
