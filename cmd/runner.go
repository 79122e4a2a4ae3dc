package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/trackline/internal/formatter"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
)

const defaultConfigPath = "config.toml"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	api        *services.APIClient
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Config and API are resolved from the global flags when left nil.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	API        *services.APIClient
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		api:        opts.API,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

// command builds the root command.
func (r *Runner) command() *cli.Command {
	return &cli.Command{
		Name:    "trackline",
		Usage:   "Turn generated songs into videos and publish them to YouTube",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   defaultConfigPath,
				Sources: cli.EnvVars(shared.EnvPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of the trackline API (default: from config)",
				Sources: cli.EnvVars(shared.EnvPrefix + "SERVER_URL"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Before:   r.before,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, workerCommand, setupCommand, authCommand,
		tracksCommand, genresCommand, importCommand, queueCommand, batchCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads the configuration and points the API client at the server.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.config == nil {
		path := r.configPath
		if path == "" {
			path = cmd.String("config")
		}
		config, err := loadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config, r.configPath = config, path
	}

	level := shared.ParseLevel(r.config.Logging.Level)
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)

	if r.api == nil {
		base := cmd.String("server")
		if base == "" {
			base = r.config.Server.BaseURL()
		}
		r.api = services.NewAPIClient(base)
	}
	return ctx, nil
}

// loadConfig reads path when it exists and falls back to the defaults otherwise.
func loadConfig(path string) (*shared.Config, error) {
	if _, err := os.Stat(path); err == nil {
		return shared.LoadConfig(path)
	}
	config := shared.DefaultConfig()
	if err := shared.ApplyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// writeAction prints the outcome of a single-track action.
func (r *Runner) writeAction(verb string, res *models.ActionResult) error {
	line := fmt.Sprintf("✓ Track %d %s: %s (%d%%)", res.ID, verb, res.Status, res.Progress)
	if res.JobID != "" {
		line += " job " + res.JobID
	}
	return r.writePlain("%s\n", line)
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, csv or json",
		Value:   string(formatter.Text),
	}
}

func outputFormat(cmd *cli.Command) (formatter.Format, error) {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	return f, nil
}

// parseIDs accepts ids as separate arguments, comma separated lists or both.
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("%w: %q is not a track id", shared.ErrInvalidArgument, part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// trackID returns the single track id argument.
func trackID(cmd *cli.Command) (int64, error) {
	if cmd.Args().Len() != 1 {
		return 0, fmt.Errorf("%w: expected exactly one track id", shared.ErrMissingArgument)
	}
	ids, err := parseIDs(cmd.Args().Slice())
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, fmt.Errorf("%w: expected exactly one track id", shared.ErrInvalidArgument)
	}
	return ids[0], nil
}

func parseStatuses(values []string) ([]models.Status, error) {
	var statuses []models.Status
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			st, ok := models.ParseStatus(part)
			if !ok {
				return nil, fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, part)
			}
			statuses = append(statuses, st)
		}
	}
	return statuses, nil
}

// optionalID returns nil when the flag was not set.
func optionalID(cmd *cli.Command, name string) *int64 {
	if !cmd.IsSet(name) {
		return nil
	}
	id := cmd.Int64(name)
	return &id
}

// describe renders err for the terminal, listing field errors returned by the API.
func describe(err error) string {
	var apiErr *services.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Fields) == 0 {
		return err.Error()
	}
	var b strings.Builder
	b.WriteString(err.Error())
	for field, msg := range apiErr.Fields {
		fmt.Fprintf(&b, "\n  %s: %s", field, msg)
	}
	return b.String()
}
