package launcher

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v3"

	"github.com/rony4d/go-ftso-provider/flags"
)

const startupTimeout = 30 * time.Second

var app = newApp()

func newApp() *cli.App {
	app := flags.NewApp()
	app.Action = runProvider
	app.Commands = []cli.Command{
		{
			Name:   "dumpconfig",
			Usage:  "Print the merged configuration as YAML and exit",
			Action: dumpConfig,
		},
	}
	return app
}

// Launch loads .env, parses args and runs the provider until it is
// interrupted.
func Launch(args []string) error {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}
	return app.Run(args)
}

func runProvider(ctx *cli.Context) error {
	cfg, err := MakeAllConfigs(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	node, err := NewNode(startCtx, cfg, log)
	cancel()
	if err != nil {
		return err
	}
	node.Start()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	sig := <-sigc
	log.WithField("signal", sig.String()).Info("Shutting down")
	return node.Stop()
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := MakeAllConfigs(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(ctx.App.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return err
	}
	return enc.Close()
}
