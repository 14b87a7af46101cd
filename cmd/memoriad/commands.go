package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"memoria/internal/engine"
	"memoria/internal/entrystore"
	"memoria/internal/query"
)

var (
	storeImportance float64
	storeTags       []string
	storeParents    []string
	storeSession    string
	storeAgent      string

	queryTopK     int
	queryMinScore float64
	queryTrace    bool
)

var storeCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "Store a new memory entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, ctx, cancel, err := loadEngine()
		if err != nil {
			return err
		}
		defer cancel()
		defer e.Close(ctx)

		entry, err := e.Store(ctx, engine.StoreParams{
			Content:    args[0],
			Source:     entrystore.SourceUserInput,
			Importance: storeImportance,
			SessionID:  storeSession,
			AgentID:    storeAgent,
			Tags:       storeTags,
			ParentIDs:  storeParents,
		})
		if err != nil {
			logger.Error("store failed", zap.Error(err))
			return err
		}

		fmt.Printf("stored %s (depth=%d lscore=%.4f)\n", entry.ID, entry.Depth, entry.LScore)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run a semantic query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, ctx, cancel, err := loadEngine()
		if err != nil {
			return err
		}
		defer cancel()
		defer e.Close(ctx)

		results, err := e.Query(ctx, args[0], query.Options{
			TopK:              queryTopK,
			MinScore:          queryMinScore,
			IncludeProvenance: queryTrace,
		})
		if err != nil {
			logger.Error("query failed", zap.Error(err))
			return err
		}

		for i, r := range results {
			fmt.Printf("%d. [%s score=%.4f sim=%.4f lscore=%.4f] %s\n",
				i+1, r.MatchType, r.Score, r.Similarity, r.Entry.LScore, truncate(r.Entry.Content, 120))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts and embedding backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, ctx, cancel, err := loadEngine()
		if err != nil {
			return err
		}
		defer cancel()
		defer e.Close(ctx)

		s, err := e.Stats(ctx)
		if err != nil {
			return err
		}
		for table, count := range s.Entries {
			fmt.Printf("%-20s %d\n", table, count)
		}
		fmt.Printf("%-20s %d (oldest %s)\n", "pending_embedding", s.PendingEmbedding, s.OldestPendingAge)
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Force a flush of pending embeddings and persist the vector index",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, ctx, cancel, err := loadEngine()
		if err != nil {
			return err
		}
		defer cancel()
		defer e.Close(ctx)

		if err := e.Checkpoint(ctx); err != nil {
			logger.Error("checkpoint failed", zap.Error(err))
			return err
		}
		fmt.Println("checkpoint complete")
		return nil
	},
}

func init() {
	storeCmd.Flags().Float64Var(&storeImportance, "importance", 0.5, "importance in [0,1]")
	storeCmd.Flags().StringSliceVar(&storeTags, "tag", nil, "tag (repeatable)")
	storeCmd.Flags().StringSliceVar(&storeParents, "parent", nil, "parent entry ID (repeatable)")
	storeCmd.Flags().StringVar(&storeSession, "session", "", "session ID")
	storeCmd.Flags().StringVar(&storeAgent, "agent", "", "agent ID")

	queryCmd.Flags().IntVar(&queryTopK, "top-k", 10, "number of results")
	queryCmd.Flags().Float64Var(&queryMinScore, "min-score", 0, "discard results below this composite score")
	queryCmd.Flags().BoolVar(&queryTrace, "trace", false, "attach provenance lineage to each result")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
