package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/videodna"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/ai"
)

var (
	dbPath   string
	poolDir  string
	clipDir  string
	tempDir  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "videodna",
		Short: "Content-addressed video knowledge extraction",
		Long: "VideoDNA pools videos by content fingerprint, caches ASR/VLM analysis,\n" +
			"decides the most valuable segments with an LLM and serves embedding\n" +
			"search over per-topic libraries.",
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envOr("VIDEODNA_DB_PATH", "videodna.sqlite3"), "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&poolDir, "pool", envOr("VIDEODNA_POOL_DIR", "videodna_pool"), "asset pool directory")
	rootCmd.PersistentFlags().StringVar(&clipDir, "clips", envOr("VIDEODNA_CLIP_DIR", "videodna_clips"), "clip slice cache directory")
	rootCmd.PersistentFlags().StringVar(&tempDir, "temp", envOr("VIDEODNA_TEMP_DIR", os.TempDir()), "temporary directory")

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(assetsCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(invalidateCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(libCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(reclaimCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getService() (videodna.Service, error) {
	return videodna.NewService(
		videodna.WithDBPath(dbPath),
		videodna.WithPoolDir(poolDir),
		videodna.WithClipCacheDir(clipDir),
		videodna.WithTempDir(tempDir),
		videodna.WithAIConfig(ai.Config{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		}),
	)
}

func decideOptions(minScore int, gap, budget float64) *videodna.DecideOptions {
	if minScore == 5 && gap == 0.5 && budget == 0 {
		return nil
	}
	return &videodna.DecideOptions{MinScore: minScore, MergeGapSec: gap, BudgetSec: budget}
}

func printSegments(segments []models.Segment) {
	if len(segments) == 0 {
		fmt.Println("No segments selected.")
		return
	}
	for i, s := range segments {
		fmt.Printf("%2d. [%8.2fs - %8.2fs] score %2d  %s\n", i+1, s.Start, s.End, s.Score, s.Reason)
		if s.Text != "" {
			fmt.Printf("    %s\n", truncate(s.Text, 100))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <video-file>",
		Short: "Pool a local video by content fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			a, created, err := svc.IngestVideo(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Ingested %s (%s, %s)\n", a.Fingerprint, a.OriginalName, humanize.Bytes(uint64(a.SizeBytes)))
			} else {
				fmt.Printf("Already pooled as %s (%s)\n", a.Fingerprint, a.OriginalName)
			}
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download a remote video and pool it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			a, created, err := svc.IngestFromURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Fetched and pooled %s (%s)\n", a.Fingerprint, a.OriginalName)
			} else {
				fmt.Printf("Already pooled as %s (%s)\n", a.Fingerprint, a.OriginalName)
			}
			return nil
		},
	}
}

func assetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "List pooled assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			assets, err := svc.ListAssets()
			if err != nil {
				return err
			}
			if len(assets) == 0 {
				fmt.Println("No assets pooled.")
				return nil
			}
			for _, a := range assets {
				fmt.Printf("%s  %-30s  %8s  %7.1fs  refs=%d  %s\n",
					a.Fingerprint[:12], truncate(a.OriginalName, 30),
					humanize.Bytes(uint64(a.SizeBytes)), a.DurationSec, a.RefCount,
					humanize.Time(a.FirstSeenAt))
			}
			fmt.Printf("%d assets\n", len(assets))
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <fingerprint>",
		Short: "Run (or reuse cached) ASR and VLM analysis for an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			records, err := svc.AnalyzeVideo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for method, rec := range records {
				units, err := rec.Units()
				if err != nil {
					return err
				}
				fmt.Printf("%s v%d: %d units (computed %s)\n",
					method, rec.MethodVersion, len(units), humanize.Time(rec.ComputedAt))
			}
			return nil
		},
	}
}

func invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <fingerprint> <method>",
		Short: "Mark cached analysis of one method stale",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[1]
			if method != models.MethodASR && method != models.MethodVLM {
				return fmt.Errorf("unknown method %q (want %s or %s)", method, models.MethodASR, models.MethodVLM)
			}

			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.InvalidateAnalysis(args[0], method); err != nil {
				return err
			}
			fmt.Printf("Invalidated %s analysis for %s\n", method, args[0])
			return nil
		},
	}
}

func decideCmd() *cobra.Command {
	var instruction string
	var minScore int
	var gap, budget float64

	cmd := &cobra.Command{
		Use:   "decide <fingerprint>",
		Short: "Select the most valuable segments of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			segments, err := svc.Decide(cmd.Context(), args[0], instruction, decideOptions(minScore, gap, budget))
			if err != nil {
				return err
			}
			printSegments(segments)
			return nil
		},
	}
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "extract the most informative moments", "what to select for")
	cmd.Flags().IntVar(&minScore, "min-score", 5, "minimum segment score to keep")
	cmd.Flags().Float64Var(&gap, "gap", 0.5, "merge segments closer than this many seconds")
	cmd.Flags().Float64Var(&budget, "budget", 0, "total output duration cap in seconds (0 = unlimited)")
	return cmd
}

func exportCmd() *cobra.Command {
	var instruction, output string
	var minScore int
	var gap, budget float64

	cmd := &cobra.Command{
		Use:   "export <fingerprint>",
		Short: "Decide segments and export them as one video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			segments, err := svc.Decide(cmd.Context(), args[0], instruction, decideOptions(minScore, gap, budget))
			if err != nil {
				return err
			}
			if len(segments) == 0 {
				return fmt.Errorf("no segments selected, nothing to export")
			}
			if err := svc.ExportClips(cmd.Context(), args[0], segments, output); err != nil {
				return err
			}
			fmt.Printf("Exported %d segments to %s\n", len(segments), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "extract the most informative moments", "what to select for")
	cmd.Flags().StringVarP(&output, "output", "o", "export.mp4", "output file")
	cmd.Flags().IntVar(&minScore, "min-score", 5, "minimum segment score to keep")
	cmd.Flags().Float64Var(&gap, "gap", 0.5, "merge segments closer than this many seconds")
	cmd.Flags().Float64Var(&budget, "budget", 0, "total output duration cap in seconds (0 = unlimited)")
	return cmd
}

func libCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lib",
		Short: "Manage libraries and their members",
	}
	cmd.AddCommand(libListCmd())
	cmd.AddCommand(libAddCmd())
	cmd.AddCommand(libRemoveCmd())
	cmd.AddCommand(libResetCmd())
	return cmd
}

func libListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			libs, err := svc.ListLibraries()
			if err != nil {
				return err
			}
			if len(libs) == 0 {
				fmt.Println("No libraries.")
				return nil
			}
			for _, l := range libs {
				fmt.Printf("%-24s  model=%s\n", l.Name, l.EmbedModel)
			}
			return nil
		},
	}
}

func libAddCmd() *cobra.Command {
	var instruction string
	var budget float64

	cmd := &cobra.Command{
		Use:   "add <library> <fingerprint>",
		Short: "Decide segments for an asset and register them in a library",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			var opts *videodna.DecideOptions
			if budget > 0 {
				opts = &videodna.DecideOptions{MinScore: 5, MergeGapSec: 0.5, BudgetSec: budget}
			}
			segments, err := svc.AddToLibrary(cmd.Context(), args[0], args[1], instruction, opts)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %d segments of %s in %s\n", len(segments), args[1], args[0])
			printSegments(segments)
			return nil
		},
	}
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "extract the most informative moments", "what to select for")
	cmd.Flags().Float64Var(&budget, "budget", 0, "total duration cap in seconds (0 = unlimited)")
	return cmd
}

func libRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <library> <fingerprint>",
		Short: "Remove an asset's segments from a library",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.RemoveFromLibrary(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Removed %s from %s\n", args[1], args[0])
			return nil
		},
	}
}

func libResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <library>",
		Short: "Wipe a library's index after an embedding model change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.ResetLibrary(args[0]); err != nil {
				return err
			}
			fmt.Printf("Reset library %s; members must be re-registered\n", args[0])
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "search <library> <query>",
		Short: "Search a library with a natural-language query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			query := strings.Join(args[1:], " ")
			results, err := svc.Search(cmd.Context(), args[0], query, topK)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No results.")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%2d. %.3f  %s [%8.2fs - %8.2fs]\n", i+1, r.Similarity, r.Fingerprint[:12], r.Segment.Start, r.Segment.End)
				if r.Segment.Text != "" {
					fmt.Printf("    %s\n", truncate(r.Segment.Text, 100))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top", "k", 10, "maximum number of results")
	return cmd
}

func reclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim <fingerprint>",
		Short: "Physically delete an asset no library references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := getService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.ReclaimAsset(args[0]); err != nil {
				return err
			}
			fmt.Printf("Reclaimed %s\n", args[0])
			return nil
		},
	}
}
