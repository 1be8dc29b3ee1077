package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/agentsession"
	catalog "github.com/haasonsaas/agentcore/internal/models"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func adapterForProvider(provider string) (providers.Adapter, error) {
	switch provider {
	case "anthropic":
		return providers.NewAnthropicProvider(), nil
	case "openai":
		return providers.NewOpenAIProvider(), nil
	default:
		return nil, fmt.Errorf("no provider adapter registered for %q", provider)
	}
}

func apiKeyEnvVar(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

// openOrCreateSession opens the journal at path, creating it with a fresh
// header if it doesn't exist yet, and wraps it in an agentsession.Session
// configured from cfg.
func openOrCreateSession(path string) (*agentsession.Session, *sessions.Journal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var journal *sessions.Journal
	if _, statErr := os.Stat(path); statErr == nil {
		journal, err = sessions.Open(path)
	} else {
		cwd, _ := os.Getwd()
		journal, err = sessions.Create(path, models.NewSessionHeader(uuid.NewString(), cwd, time.Now()))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}

	model := cfg.Models.Primary
	if model.ID == "" {
		journal.Close()
		return nil, nil, fmt.Errorf("models.primary is not configured")
	}
	// A bare alias (e.g. "opus", "sonnet") with no provider/context_window
	// set resolves against the built-in catalogue.
	if model.Provider == "" {
		if entry, ok := catalog.Get(models.ModelRef{ID: model.ID}); ok {
			model = entry.Model
		}
	}

	adapter, err := adapterForProvider(model.Provider)
	if err != nil {
		journal.Close()
		return nil, nil, err
	}

	sess := agentsession.New(journal, agentsession.Config{
		Model:   model,
		Adapter: adapter,
		APIKey:  os.Getenv(apiKeyEnvVar(model.Provider)),
	})
	sess.SetModelCatalog(append([]models.Model{model}, cfg.Models.Fallbacks...))
	sess.SetRetryConfig(agent.RetryConfig{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		InitialBackoffMs: cfg.Retry.InitialBackoff.Milliseconds(),
		MaxBackoffMs:     cfg.Retry.MaxBackoff.Milliseconds(),
	})
	sess.SetAutoCompactionConfig(agentsession.AutoCompactionConfig{
		Enabled:            cfg.AutoCompact.Enabled,
		ReserveTokens:      cfg.AutoCompact.ReserveTokens,
		KeepRecentMessages: cfg.AutoCompact.KeepRecentMessages,
		MaxSummaryChars:    cfg.AutoCompact.MaxSummaryChars,
	})

	return sess, journal, nil
}

func buildPromptCmd() *cobra.Command {
	var sessionPath string

	cmd := &cobra.Command{
		Use:   "prompt [text]",
		Short: "Send a prompt to the session and print the assistant's reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := mustSessionPath(sessionPath)
			if err != nil {
				return err
			}
			sess, journal, err := openOrCreateSession(path)
			if err != nil {
				return err
			}
			defer journal.Close()

			produced, err := sess.PromptStreaming(context.Background(), args[0], func(u agentsession.StreamUpdate) {
				fmt.Fprintln(cmd.OutOrStdout(), u.Text)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "(%d messages produced)\n", len(produced))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "Path to the session journal (.jsonl)")
	return cmd
}

func buildContinueCmd() *cobra.Command {
	var sessionPath string

	cmd := &cobra.Command{
		Use:   "continue",
		Short: "Resume a run from the last entry in the session with no new prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := mustSessionPath(sessionPath)
			if err != nil {
				return err
			}
			sess, journal, err := openOrCreateSession(path)
			if err != nil {
				return err
			}
			defer journal.Close()

			produced, err := sess.ContinueRunStreaming(context.Background(), func(u agentsession.StreamUpdate) {
				fmt.Fprintln(cmd.OutOrStdout(), u.Text)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "(%d messages produced)\n", len(produced))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "Path to the session journal (.jsonl)")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var sessionPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the session's current leaf, model, and message count",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := mustSessionPath(sessionPath)
			if err != nil {
				return err
			}
			journal, err := sessions.Open(path)
			if err != nil {
				return fmt.Errorf("open session: %w", err)
			}
			defer journal.Close()

			header := journal.Header()
			messages := journal.BuildSessionContext()
			fmt.Fprintf(cmd.OutOrStdout(), "session: %s\nleaf: %s\nmessages: %d\n", header.ID, journal.LeafID(), len(messages))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "Path to the session journal (.jsonl)")
	return cmd
}

func buildCompactCmd() *cobra.Command {
	var (
		sessionPath string
		keepRecent  int
		summary     string
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Manually compact the session, keeping the most recent messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := mustSessionPath(sessionPath)
			if err != nil {
				return err
			}
			sess, journal, err := openOrCreateSession(path)
			if err != nil {
				return err
			}
			defer journal.Close()

			entry, err := sess.CompactKeepRecent(summary, keepRecent, 0)
			if err != nil {
				return err
			}
			if entry == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to compact")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compacted, kept from entry %s\n", entry.FirstKeptEntryID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "Path to the session journal (.jsonl)")
	cmd.Flags().IntVar(&keepRecent, "keep-recent", 8, "Number of recent context-bearing entries to keep uncompacted")
	cmd.Flags().StringVar(&summary, "summary", "", "Summary text to record for the compacted prefix")
	return cmd
}

func buildCatalogCmd() *cobra.Command {
	var (
		provider string
		tier     string
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the built-in model catalogue, optionally filtered by provider or tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := &catalog.Filter{}
			if provider != "" {
				filter.Providers = []string{provider}
			}
			if tier != "" {
				filter.Tiers = []catalog.Tier{catalog.Tier(tier)}
			}

			for _, entry := range catalog.List(filter) {
				aliasNote := ""
				if len(entry.Aliases) > 0 {
					aliasNote = fmt.Sprintf(" (aliases: %v)", entry.Aliases)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\t%s\t%s\tcontext=%d%s\n",
					entry.Provider, entry.ID, entry.Tier, entry.Name, entry.ContextWindow, aliasNote)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider name")
	cmd.Flags().StringVar(&tier, "tier", "", "Filter by tier (flagship, standard, fast, mini)")
	return cmd
}

func buildModelCmd() *cobra.Command {
	var sessionPath string

	cmd := &cobra.Command{
		Use:   "model [next|prev]",
		Short: "Cycle the session's active model forward or backward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := mustSessionPath(sessionPath)
			if err != nil {
				return err
			}
			sess, journal, err := openOrCreateSession(path)
			if err != nil {
				return err
			}
			defer journal.Close()

			var model *models.Model
			switch args[0] {
			case "next":
				model, err = sess.CycleModelForward()
			case "prev":
				model, err = sess.CycleModelBackward()
			default:
				return fmt.Errorf("unknown direction %q, expected next or prev", args[0])
			}
			if err != nil {
				return err
			}
			if model == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no other models in the catalogue")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "now using %s/%s\n", model.Provider, model.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "Path to the session journal (.jsonl)")
	return cmd
}
