package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/takuphilchan/offgrid-t2i/internal/apperr"
	"github.com/takuphilchan/offgrid-t2i/internal/catalog"
	"github.com/takuphilchan/offgrid-t2i/internal/config"
	"github.com/takuphilchan/offgrid-t2i/internal/history"
	"github.com/takuphilchan/offgrid-t2i/internal/hub"
	"github.com/takuphilchan/offgrid-t2i/internal/imagegen"
	"github.com/takuphilchan/offgrid-t2i/internal/lister"
	"github.com/takuphilchan/offgrid-t2i/internal/output"
	"github.com/takuphilchan/offgrid-t2i/internal/resource"
	"github.com/takuphilchan/offgrid-t2i/internal/validation"
)

func runList(cmd *cobra.Command, a *app, opts hub.ListOptions) error {
	l := lister.New(a.hubClient())
	out := cmd.OutOrStdout()

	if !output.JSONMode {
		return l.Run(cmd.Context(), out, opts)
	}
	ids, err := l.IDs(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return output.PrintJSON(out, map[string]any{
		"filter": opts.Filter,
		"models": ids,
		"count":  len(ids),
	})
}

func listCmd(a *app) *cobra.Command {
	var opts hub.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List hub model identifiers",
		Long:  "List model identifiers from the HuggingFace hub, one per line. Defaults to text-to-image models.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", lister.DefaultFilter, "Hub filter (pipeline tag or tag)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "Search term")
	cmd.Flags().StringVar(&opts.Author, "author", "", "Only models by this author")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "Sort key, e.g. downloads or likes")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of models (0 = hub default)")
	return cmd
}

func modelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models <id>",
		Short: "Show one hub model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.hubClient().GetModel(cmd.Context(), args[0])
			if errors.Is(err, hub.ErrNotFound) {
				return fmt.Errorf("model %q not found on the hub", args[0])
			}
			if err != nil {
				return err
			}
			return output.PrintModel(cmd.OutOrStdout(), *m)
		},
	}
}

func catalogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the image models available for generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return output.PrintCatalog(cmd.OutOrStdout(), catalog.Default().Models)
		},
	}
}

func generateCmd(a *app) *cobra.Command {
	var (
		prompt string
		model  string
		width  int
		height int
		out    string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an image and save it to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := catalog.Default()
			req := validation.ImageRequest{Prompt: prompt}
			if width != 0 {
				req.Width = float64(width)
			}
			if height != 0 {
				req.Height = float64(height)
			}
			if model != "" {
				req.Model = model
			}
			input, result := validation.New(cat.Keys()).ValidateImage(req)
			if !result.Valid {
				return fmt.Errorf("invalid request: %s", strings.Join(result.Messages(), "; "))
			}

			store, err := history.Open(a.cfg.HistoryPath())
			if err != nil {
				a.log.Warn("generation history unavailable", map[string]any{"error": err})
			} else {
				defer store.Close()
			}

			opts := a.generatorOptions()
			if store != nil {
				opts.Recorder = store
			}
			svc, err := imagegen.NewService(opts, cat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := svc.Generate(ctx, imagegen.Request{
				Prompt: input.Prompt,
				Width:  input.Width,
				Height: input.Height,
				Model:  input.Model,
			})
			if err != nil {
				output.Error(cmd.OutOrStdout(), "Image generation failed", err)
				return describe(err)
			}

			path := out
			if path == "" {
				path = res.RequestID + extension(res.ContentType)
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}
			if err := resource.CheckAvailableDisk(filepath.Dir(path), uint64(len(res.Data))>>20+1); err != nil {
				return err
			}
			if err := os.WriteFile(path, res.Data, 0644); err != nil {
				return fmt.Errorf("failed to save image: %w", err)
			}

			return output.PrintGeneration(cmd.OutOrStdout(), output.GenerationInfo{
				RequestID:      res.RequestID,
				Model:          res.Model,
				File:           path,
				Bytes:          len(res.Data),
				ContentType:    res.ContentType,
				GenerationTime: res.GenerationTime.Round(time.Millisecond).String(),
			})
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Text prompt (3 to 500 characters)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Catalog model key (default from config)")
	cmd.Flags().IntVar(&width, "width", 0, "Image width, 128 to 1024 and divisible by 8")
	cmd.Flags().IntVar(&height, "height", 0, "Image height, 128 to 1024 and divisible by 8")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default <request-id>.<ext>)")
	cmd.MarkFlagRequired("prompt")
	return cmd
}

func historyCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent image generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(a.cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return output.PrintHistory(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")
	return cmd
}

func (a *app) generatorOptions() imagegen.Options {
	return imagegen.Options{
		APIKey:         a.cfg.APIKey,
		BaseURL:        a.cfg.InferenceURL,
		DefaultModel:   a.cfg.DefaultModel,
		GuidanceScale:  a.cfg.GuidanceScale,
		InferenceSteps: a.cfg.InferenceSteps,
		DefaultWidth:   a.cfg.DefaultWidth,
		DefaultHeight:  a.cfg.DefaultHeight,
		Timeout:        a.cfg.RequestTimeout(),
		Logger:         a.log,
	}
}

// describe flattens an API error for terminal output.
func describe(err error) error {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return err
	}
	if len(appErr.Details) > 0 {
		return fmt.Errorf("%s: %s", appErr.Message, strings.Join(appErr.Details, "; "))
	}
	return err
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or save the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (the API key is never shown)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return output.PrintJSON(cmd.OutOrStdout(), a.cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save [file]",
		Short: "Write the effective configuration to a .yaml, .yml or .json file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if len(args) == 1 {
				path = args[0]
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := a.cfg.SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
			return nil
		},
	})

	return cmd
}
