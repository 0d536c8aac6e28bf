package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/usermemory/internal/app"
	"github.com/iammorganparry/clive/apps/usermemory/internal/config"
	"github.com/iammorganparry/clive/apps/usermemory/internal/importer"
	"github.com/iammorganparry/clive/apps/usermemory/internal/logging"
	"github.com/iammorganparry/clive/apps/usermemory/internal/memory"
	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

type rootFlags struct {
	dbPath string
	userID string
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "memoryctl",
		Short:         "Inspect and maintain user memories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&flags.dbPath, "db", "d", "", "Database path (default: $MEMORY_DB_PATH or config file)")
	root.PersistentFlags().StringVarP(&flags.userID, "user", "u", "", "User ID to act on")

	root.AddCommand(
		newContextCmd(flags),
		newExtractCmd(flags),
		newStatsCmd(flags),
		newTagsCmd(flags),
		newImportCmd(flags),
	)
	return root
}

// openApp loads config, applies flag overrides and wires the service.
// Logs go to stderr so stdout stays machine-readable.
func openApp(flags *rootFlags) (*app.App, error) {
	if flags.userID == "" {
		return nil, errors.New("--user is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.DBPath = flags.dbPath
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, "text")
	return app.New(cfg, logger)
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func newContextCmd(flags *rootFlags) *cobra.Command {
	var (
		limit int
		raw   bool
	)
	cmd := &cobra.Command{
		Use:   "context [message]",
		Short: "Show the memories that would be injected for a message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			message := ""
			if len(args) == 1 {
				message = args[0]
			}
			if limit == 0 {
				limit = a.Config.DefaultContextLimit
			}
			resp, err := a.Service.BuildContext(cmd.Context(), flags.userID, message, limit)
			if err != nil {
				return err
			}
			if raw {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Context)
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum memories (default from config)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the rendered context block")
	return cmd
}

func newExtractCmd(flags *rootFlags) *cobra.Command {
	var chatID, exchangeID string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run memory extraction over a stored chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == "" {
				return errors.New("--chat is required")
			}
			a, err := openApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			chat, err := a.Service.GetChat(cmd.Context(), flags.userID, chatID)
			if err != nil {
				return fmt.Errorf("load chat: %w", err)
			}
			outcome := a.Service.ExtractMemories(cmd.Context(), chat, exchangeID)
			return printJSON(cmd, outcome.Summary())
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID")
	cmd.Flags().StringVar(&exchangeID, "exchange", "", "Exchange ID (default: recent history)")
	return cmd
}

func newStatsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Service.Stats(cmd.Context(), flags.userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func newTagsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List the tags on a user's memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			tags, err := a.Service.ListTags(cmd.Context(), flags.userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, tags)
		},
	}
}

func newImportCmd(flags *rootFlags) *cobra.Command {
	var (
		chatID string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "import <path>...",
		Short: "Backfill memories from markdown fact notes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, err := importer.ScanNotes(args)
			if err != nil {
				return err
			}
			facts := lo.Map(notes, func(n importer.Note, _ int) models.FactCandidate { return n.Candidate().ToFact() })
			if dryRun {
				return printJSON(cmd, facts)
			}

			a, err := openApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.Service.IngestCandidates(cmd.Context(), memory.Provenance{UserID: flags.userID, ChatID: chatID}, facts)
			return printJSON(cmd, models.IngestResponse{
				Memories:  result.Memories,
				Created:   result.Created,
				Updated:   result.Updated,
				Unchanged: result.Unchanged,
				Skipped:   result.Skipped,
				Failed:    result.Failed,
			})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "import", "Chat ID recorded as the memories' source")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the parsed facts without storing them")
	return cmd
}
