package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"archivist/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "archivist",
		Short: "Recorded-session library with transcription and hybrid search",
		Long: `archivist keeps a library of recorded sessions on disk (Inbox, Folders, Trash)
and an index of their transcripts, summaries and embeddings.

The library directory is the source of truth. Run 'archivist reconcile' after
editing it by hand, or let 'archivist serve' pick changes up lazily.

Examples:
  archivist serve --addr 127.0.0.1:8765
  archivist import ~/Recordings --transcribe
  archivist search "what did we decide about the roadmap"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a JSON/JSONC/YAML config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newReconcileCmd(opts),
		newSearchCmd(opts),
		newSessionsCmd(opts),
		newFoldersCmd(opts),
		newSuggestionsCmd(opts),
		newImportCmd(opts),
		newReindexCmd(opts),
		newBrowseCmd(opts),
		newShellCmd(opts),
	)
	return root
}

// load reads .env, the layered settings and opens the library.
func (o *rootOptions) load() (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Level()
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return openApp(cfg, logger)
}

// withApp opens the app for the duration of fn.
func (o *rootOptions) withApp(fn func(a *app) error) error {
	a, err := o.load()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn("shutdown", "err", cerr)
		}
	}()
	return fn(a)
}
