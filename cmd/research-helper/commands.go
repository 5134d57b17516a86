package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikeboe/research-orchestrator/pkg/chat"
	"github.com/mikeboe/research-orchestrator/pkg/clients"
	"github.com/mikeboe/research-orchestrator/pkg/database"
	"github.com/mikeboe/research-orchestrator/pkg/evidence"
	"github.com/mikeboe/research-orchestrator/pkg/mcpserver"
	"github.com/mikeboe/research-orchestrator/pkg/research"
)

func newRunCmd() *cobra.Command {
	var (
		topic          string
		maxLoops       int
		initialQueries int
		timeout        time.Duration
		asJSON         bool
		index          bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Research a topic and print the cited answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !cmd.Flags().Changed("topic") {
				// Interactive Mode
				fmt.Fprint(os.Stderr, "Enter research topic: ")
				input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				topic = input
			}
			topic = strings.TrimSpace(topic)
			if topic == "" {
				return errors.New("topic cannot be empty")
			}

			engine, err := clients.NewEngine(ctx, cfg)
			if err != nil {
				return fmt.Errorf("error initializing engine: %w", err)
			}

			var opts []research.Option
			if cmd.Flags().Changed("max-loops") {
				opts = append(opts, research.WithMaxLoops(maxLoops))
			}
			if cmd.Flags().Changed("initial-queries") {
				opts = append(opts, research.WithInitialQueryCount(initialQueries))
			}
			if cmd.Flags().Changed("timeout") {
				opts = append(opts, research.WithTimeout(timeout))
			}

			slog.Info("Starting research", "topic", topic)
			result, err := engine.Research(ctx, topic, opts...)
			if result == nil {
				return fmt.Errorf("error running research: %w", err)
			}
			if err != nil {
				slog.Warn("Research finished degraded", "error", err)
			}

			if index {
				if err := indexResult(context.WithoutCancel(ctx), result); err != nil {
					slog.Warn("Failed to index evidence", "error", err)
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Println(result.Answer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	cmd.Flags().IntVar(&maxLoops, "max-loops", research.DefaultMaxLoops, "Maximum number of follow-up research rounds")
	cmd.Flags().IntVar(&initialQueries, "initial-queries", research.DefaultInitialQueryCount, "Number of queries in the first round")
	cmd.Flags().DurationVar(&timeout, "timeout", research.DefaultCallTimeout, "Budget of every single backend call")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().BoolVar(&index, "index", false, "Store the gathered evidence in the vector DB collection")
	return cmd
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the research agent a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := clients.NewEngine(ctx, cfg)
			if err != nil {
				return fmt.Errorf("error initializing engine: %w", err)
			}

			idx, closeDB := openIndex(ctx)
			defer closeDB()

			toolset := chat.NewResearchToolset(engine, nil, cfg.MaxLoops)
			if idx != nil {
				toolset.Index = idx
			}
			svc, err := chat.NewService(ctx, cfg, toolset)
			if err != nil {
				return err
			}

			next, err := svc.Ask(ctx, chat.AskRequest{Question: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			for event, err := range next {
				if err != nil {
					return err
				}
				switch event.Type {
				case "content":
					fmt.Print(event.Payload)
				case "tool_call":
					slog.Info("Agent called a tool", "call", event.Payload)
				}
			}
			fmt.Println()
			return nil
		},
	}
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve deep research and the evidence tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := clients.NewEngine(ctx, cfg)
			if err != nil {
				return fmt.Errorf("error initializing engine: %w", err)
			}

			idx, closeDB := openIndex(ctx)
			defer closeDB()

			var evidenceIndex mcpserver.EvidenceIndex
			if idx != nil {
				evidenceIndex = idx
			}
			return mcpserver.New(engine, evidenceIndex, slog.Default()).RunStdio(ctx)
		},
	}
}

// openIndex connects to the evidence collection when a database is configured.
// It returns a nil index otherwise.
func openIndex(ctx context.Context) (*evidence.Index, func()) {
	if cfg.DatabaseURL == "" {
		return nil, func() {}
	}
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Warn("Evidence index unavailable", "error", err)
		return nil, func() {}
	}
	idx, err := clients.NewEvidenceIndex(ctx, cfg, db)
	if err != nil {
		slog.Warn("Evidence index unavailable", "error", err)
		db.Close()
		return nil, func() {}
	}
	return idx, db.Close
}

func indexResult(ctx context.Context, result *research.ResearchResult) error {
	idx, closeDB := openIndex(ctx)
	defer closeDB()
	if idx == nil {
		return errors.New("DATABASE_URL is not set or unreachable")
	}
	n, err := idx.IndexResult(ctx, result)
	if err != nil {
		return err
	}
	slog.Info("Indexed evidence", "chunks", n)
	return nil
}
