package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"github.com/rahl/studio/pkg/buildclient"
	"github.com/rahl/studio/pkg/config"
	"github.com/rahl/studio/pkg/logging"
	"github.com/rahl/studio/pkg/session"
)

var version = "dev"

var errEmptyDescription = errors.New("description is required")

// env is what every command needs once flags and config are resolved.
type env struct {
	cfg    config.CLIConfig
	logger zerolog.Logger
	client *buildclient.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(ctx).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context) *cli.App {
	app := cli.NewApp()
	app.Name = "rahl"
	app.Usage = "turn an app description into an installable mobile app"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "builder",
			Usage: "Builder base URL (overrides RAHL_BUILDER_URL)",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout (overrides RAHL_REQUEST_TIMEOUT)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "build",
			Usage:     "Submit a description and print the download link",
			ArgsUsage: "[description...]",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "wait",
					Usage: "Poll the builder until the app is ready to download",
				},
				cli.DurationFlag{
					Name:  "poll",
					Usage: "Polling interval used with --wait",
				},
			},
			Action: func(c *cli.Context) error {
				e, err := resolve(c)
				if err != nil {
					return err
				}
				return runBuild(ctx, c, e)
			},
		},
		{
			Name:      "status",
			Usage:     "Show builder-side status of a project",
			ArgsUsage: "<project-id>",
			Action: func(c *cli.Context) error {
				e, err := resolve(c)
				if err != nil {
					return err
				}
				id := strings.TrimSpace(c.Args().First())
				if id == "" {
					return errors.New("project id is required")
				}
				status, err := e.client.ProjectStatus(ctx, id)
				if err != nil {
					return err
				}
				printStatus(c, e, status)
				return nil
			},
		},
		{
			Name:  "templates",
			Usage: "List the app templates the builder offers",
			Action: func(c *cli.Context) error {
				e, err := resolve(c)
				if err != nil {
					return err
				}
				catalog, err := e.client.Templates(ctx)
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(catalog.Templates))
				for key := range catalog.Templates {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					t := catalog.Templates[key]
					fmt.Fprintf(c.App.Writer, "%s %-12s %-8s %s\n", t.Icon, key, t.Complexity, t.Description)
				}
				return nil
			},
		},
		{
			Name:      "analyze",
			Usage:     "Show how the builder reads a description without building it",
			ArgsUsage: "[description...]",
			Action: func(c *cli.Context) error {
				e, err := resolve(c)
				if err != nil {
					return err
				}
				description, err := readDescription(c)
				if err != nil {
					return err
				}
				out, err := e.client.Analyze(ctx, description)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "App type: %s\n", out.Analysis.AppType)
				fmt.Fprintf(c.App.Writer, "Package:  %s\n", out.Analysis.PackageName)
				if len(out.Analysis.Features) > 0 {
					fmt.Fprintf(c.App.Writer, "Features: %s\n", strings.Join(out.Analysis.Features, ", "))
				}
				return nil
			},
		},
		{
			Name:  "health",
			Usage: "Check that the builder is reachable",
			Action: func(c *cli.Context) error {
				e, err := resolve(c)
				if err != nil {
					return err
				}
				health, err := e.client.Health(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s (%s)\n", health.Status, e.client.BaseURL())
				return nil
			},
		},
	}
	return app
}

// resolve merges global flags over the viper config.
func resolve(c *cli.Context) (env, error) {
	cfg, err := config.LoadCLI()
	if err != nil {
		return env{}, err
	}
	if c.GlobalIsSet("builder") {
		cfg.BuilderURL = c.GlobalString("builder")
		if err := config.ValidateBuilderURL(cfg.BuilderURL); err != nil {
			return env{}, err
		}
	}
	if c.GlobalIsSet("timeout") {
		if d := c.GlobalDuration("timeout"); d > 0 {
			cfg.RequestTimeout = d
		}
	}
	if c.GlobalIsSet("log-level") {
		cfg.LogLevel = c.GlobalString("log-level")
	}

	logger, err := logging.NewWithWriter(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, c.App.ErrWriter)
	if err != nil {
		return env{}, err
	}
	return env{
		cfg:    cfg,
		logger: logger,
		client: buildclient.NewClient(cfg.BuilderURL),
	}, nil
}

// readDescription joins the positional arguments or prompts for a description.
func readDescription(c *cli.Context) (string, error) {
	description := strings.TrimSpace(strings.Join(c.Args(), " "))
	if description != "" {
		return description, nil
	}

	prompt := promptui.Prompt{
		Label: "Describe your app",
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return errEmptyDescription
			}
			return nil
		},
	}
	result, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result), nil
}

func runBuild(ctx context.Context, c *cli.Context, e env) error {
	description, err := readDescription(c)
	if err != nil {
		return err
	}

	controller := session.NewController(e.client,
		session.WithLogger(e.logger),
		session.WithTimeout(e.cfg.RequestTimeout),
	)

	fmt.Fprintln(c.App.Writer, "Building your app...")
	out, ok := controller.Submit(ctx, description)
	if !ok {
		return errEmptyDescription
	}
	if !out.Succeeded() {
		return session.ErrBuildFailed
	}

	fmt.Fprintf(c.App.Writer, "Project:  %s\n", out.Result.ProjectID)
	fmt.Fprintf(c.App.Writer, "Download: %s\n", controller.DownloadLocationFor(*out.Result))

	if !c.Bool("wait") {
		return nil
	}
	interval := e.cfg.PollInterval
	if d := c.Duration("poll"); d > 0 {
		interval = d
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	status, err := e.client.WaitReady(waitCtx, out.Result.ProjectID, interval)
	if err != nil {
		e.logger.Debug().Err(err).Str("project_id", out.Result.ProjectID).Msg("wait for artifact failed")
		return session.ErrBuildFailed
	}
	fmt.Fprintf(c.App.Writer, "Ready:    %d bytes\n", status.ApkSize)
	return nil
}

func printStatus(c *cli.Context, e env, status buildclient.ProjectStatus) {
	w := c.App.Writer
	fmt.Fprintf(w, "Project:  %s\n", status.ID)
	fmt.Fprintf(w, "Status:   %s (%d%%)\n", status.Status, status.Progress)
	if status.AppType != "" {
		fmt.Fprintf(w, "App type: %s\n", status.AppType)
	}
	if status.ApkReady {
		fmt.Fprintf(w, "Download: %s\n", e.client.DownloadLocation(status.ID))
	}
	if status.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", status.Error)
	}
	if status.CreatedAt != "" {
		if created, err := time.Parse(time.RFC3339Nano, status.CreatedAt); err == nil {
			fmt.Fprintf(w, "Created:  %s\n", created.Local().Format(time.RFC1123))
		}
	}
}
