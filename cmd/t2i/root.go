package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/takuphilchan/offgrid-t2i/internal/config"
	"github.com/takuphilchan/offgrid-t2i/internal/hub"
	"github.com/takuphilchan/offgrid-t2i/internal/lister"
	"github.com/takuphilchan/offgrid-t2i/internal/logging"
	"github.com/takuphilchan/offgrid-t2i/internal/output"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	jsonOutput bool
	userAgent  string

	cfg *config.Config
	log *logging.Logger
}

// load reads configuration. A broken file found by discovery in the home or
// working directory is skipped with a warning; a file named by --config or
// T2I_CONFIG must load.
func (a *app) load() error {
	a.log = logging.Default()

	cfg, err := config.LoadWithPriority(a.configPath)
	if err != nil {
		if a.configPath != "" || os.Getenv("T2I_CONFIG") != "" {
			return err
		}
		a.log.Warn("ignoring unreadable config file", map[string]any{"error": err})
		cfg = config.LoadConfig()
	}
	a.cfg = cfg

	logging.SetLevelFromString(cfg.LogLevel)
	logging.SetJSON(cfg.LogJSON)
	output.JSONMode = a.jsonOutput
	return nil
}

func (a *app) hubClient() *hub.Client {
	opts := []hub.Option{hub.WithBaseURL(a.cfg.HubURL)}
	if a.userAgent != "" {
		opts = append(opts, hub.WithUserAgent(a.userAgent))
	}
	return hub.NewClient(opts...)
}

// newRootCmd builds the command tree. Run without a subcommand it lists
// text-to-image models, one identifier per line.
//
// Commands provided:
//   - list [--filter F] [--search S] [--author A] [--sort S] [--limit N]
//   - models <id>
//   - catalog
//   - generate --prompt P [--model K] [--width W] [--height H] [--out FILE]
//   - history [--limit N]
//   - config show | config save [FILE]
//   - serve
func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "t2i",
		Short: "Text-to-image models on the HuggingFace hub",
		Long:  "List text-to-image models on the HuggingFace hub, generate images through the inference API, and serve both over HTTP.",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, a, hub.ListOptions{Filter: lister.DefaultFilter})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (.yaml, .yml or .json)")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(&a.userAgent, "user-agent", "", "User-Agent sent to the model hub")

	cmd.AddCommand(listCmd(a))
	cmd.AddCommand(modelCmd(a))
	cmd.AddCommand(catalogCmd(a))
	cmd.AddCommand(generateCmd(a))
	cmd.AddCommand(historyCmd(a))
	cmd.AddCommand(configCmd(a))
	cmd.AddCommand(serveCmd(a))

	return cmd
}
