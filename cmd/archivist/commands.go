package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"archivist/internal/retrieval"
	"archivist/internal/storage"
	"archivist/internal/tui"
)

const defaultAddr = "127.0.0.1:8765"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Servers ---

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and live-capture API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if _, err := a.engine.Reconcile(ctx); err != nil {
					a.logger.Warn("startup reconcile failed", "err", err)
				}
				return a.httpServer().Run(ctx, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "listen address")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve library tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				return a.mcpServer().ServeStdio()
			})
		},
	}
}

// --- Library maintenance ---

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rescan the library and sync the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				stats, err := a.engine.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newSuggestionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "suggestions",
		Short: "Recompute and list folder suggestions for Inbox sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				threshold := a.settings.Current().FolderSuggestionThreshold
				if _, err := a.engine.SuggestFolders(cmd.Context(), threshold); err != nil {
					return err
				}
				list, err := a.retrieval.FolderSuggestions()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SESSION\tTITLE\tFOLDER\tSCORE")
				for _, s := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\n", s.SessionID, s.Title, s.FolderName, s.Score)
				}
				return w.Flush()
			})
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		transcribe bool
		workers    int
	)
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import every audio file under a directory into the Inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				stats, err := a.runner.Import(cmd.Context(), args[0], transcribe, workers)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().BoolVar(&transcribe, "transcribe", false, "transcribe each imported file")
	cmd.Flags().IntVar(&workers, "workers", 2, "parallel imports")
	return cmd
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every transcribed session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				stats, err := a.runner.Reindex(cmd.Context(), workers)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 2, "parallel embeddings")
	return cmd
}

// --- Queries ---

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		topK      int
		threshold float64
		date      string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search over transcripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				q := retrieval.Query{Prompt: args[0], TopK: topK, Date: date}
				if cmd.Flags().Changed("threshold") {
					q.Threshold = &threshold
				}
				results, err := a.retrieval.Search(cmd.Context(), q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "chunk hits to return (0 uses search_top_k)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum chunk similarity")
	cmd.Flags().StringVar(&date, "date", "", "restrict full-text hits to YYYY-MM-DD")
	return cmd
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var folder int64
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List indexed sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				if _, err := a.engine.ReconcileIfStale(cmd.Context()); err != nil {
					a.logger.Warn("reconcile before listing failed", "err", err)
				}
				var filter *int64
				if cmd.Flags().Changed("folder") {
					filter = &folder
				}
				list, err := a.index.ListSessions(filter)
				if err != nil {
					return err
				}
				return writeSessions(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().Int64Var(&folder, "folder", 0, "only sessions in this folder id")
	return cmd
}

func writeSessions(out io.Writer, list []storage.Session) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTIMESTAMP\tTITLE\tFOLDER\tSTATE")
	for _, s := range list {
		state := ""
		switch {
		case s.MissingOnDisk:
			state = "missing"
		case s.Embedded:
			state = "embedded"
		case s.Diarized:
			state = "transcribed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.SessionID, s.Timestamp, s.Title, s.FolderID, state)
	}
	return w.Flush()
}

func newFoldersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				list, err := a.index.ListFolders()
				if err != nil {
					return err
				}
				return writeFolders(cmd.OutOrStdout(), list)
			})
		},
	}
}

func writeFolders(out io.Writer, list []storage.Folder) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDIR\tKIND")
	for _, f := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", strconv.FormatInt(f.ID, 10), f.Name, f.DirName, f.Kind)
	}
	return w.Flush()
}

// --- Interactive ---

func newBrowseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Open the interactive search browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				return tui.Run(a.lib.Root(), browseBackend{a: a})
			})
		},
	}
}

func newShellCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Line-oriented library shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(func(a *app) error {
				return runShell(cmd.Context(), a)
			})
		},
	}
}
