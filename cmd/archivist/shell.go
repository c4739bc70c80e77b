package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"archivist/internal/retrieval"
)

const shellPrompt = "archivist> "

type shellCommand struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, out io.Writer, arg string) error
}

var errShellExit = errors.New("exit")

var shellCommands []shellCommand

func init() {
	shellCommands = []shellCommand{
		{"search", "search <query>", shellSearch},
		{"sessions", "sessions", shellSessions},
		{"folders", "folders", shellFolders},
		{"show", "show <session_id>", shellShow},
		{"summarize", "summarize <session_id>", shellSummarize},
		{"reconcile", "reconcile", shellReconcile},
		{"suggestions", "suggestions", shellSuggestions},
		{"help", "help", shellHelp},
		{"exit", "exit", func(context.Context, *app, io.Writer, string) error { return errShellExit }},
	}
}

func runShell(ctx context.Context, a *app) error {
	in, err := newLineInput(filepath.Join(filepath.Dir(a.settings.Current().DatabasePath()), "shell.history"))
	if err != nil {
		a.logger.Warn("line editor unavailable, fallback to basic input", "err", err)
	}
	defer in.Close()
	return shellLoop(ctx, a, in, os.Stdout)
}

func shellLoop(ctx context.Context, a *app, in lineInput, out io.Writer) error {
	for {
		line, err := in.ReadLine(shellPrompt)
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := dispatchShell(ctx, a, out, line); err != nil {
			if errors.Is(err, errShellExit) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func dispatchShell(ctx context.Context, a *app, out io.Writer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, arg, _ := strings.Cut(line, " ")
	name = strings.TrimPrefix(strings.ToLower(name), "/")
	if name == "quit" {
		name = "exit"
	}
	for _, c := range shellCommands {
		if c.name == name {
			return c.run(ctx, a, out, strings.TrimSpace(arg))
		}
	}
	return fmt.Errorf("unknown command %q (try help)", name)
}

func shellSearch(ctx context.Context, a *app, out io.Writer, arg string) error {
	results, err := a.retrieval.Search(ctx, retrieval.Query{Prompt: arg})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no matches")
		return nil
	}
	for _, r := range results {
		score := "text"
		if r.Similarity != nil {
			score = fmt.Sprintf("%.2f", *r.Similarity)
		}
		fmt.Fprintf(out, "[%s] %s %s: %s\n", score, r.SessionID, r.Title, strings.Join(strings.Fields(r.Snippet), " "))
	}
	return nil
}

func shellSessions(ctx context.Context, a *app, out io.Writer, _ string) error {
	if _, err := a.engine.ReconcileIfStale(ctx); err != nil {
		a.logger.Warn("reconcile before listing failed", "err", err)
	}
	list, err := a.index.ListSessions(nil)
	if err != nil {
		return err
	}
	return writeSessions(out, list)
}

func shellFolders(_ context.Context, a *app, out io.Writer, _ string) error {
	list, err := a.index.ListFolders()
	if err != nil {
		return err
	}
	return writeFolders(out, list)
}

func shellShow(ctx context.Context, a *app, out io.Writer, arg string) error {
	if arg == "" {
		return errors.New("usage: show <session_id>")
	}
	view, err := a.runner.Transcript(ctx, arg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%s)\n\n%s\n", view.Title, view.SessionID, view.Text)
	return nil
}

func shellSummarize(ctx context.Context, a *app, out io.Writer, arg string) error {
	if arg == "" {
		return errors.New("usage: summarize <session_id>")
	}
	res, err := a.runner.Summarize(ctx, arg, false)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Summary)
	return nil
}

func shellReconcile(ctx context.Context, a *app, out io.Writer, _ string) error {
	stats, err := a.engine.Reconcile(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

func shellSuggestions(ctx context.Context, a *app, out io.Writer, _ string) error {
	stats, err := a.engine.SuggestFolders(ctx, a.settings.Current().FolderSuggestionThreshold)
	if err != nil {
		return err
	}
	list, err := a.retrieval.FolderSuggestions()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d suggested, %d skipped\n", stats.Suggested, stats.Skipped)
	for _, s := range list {
		fmt.Fprintf(out, "  %s %q -> %s (%.2f)\n", s.SessionID, s.Title, s.FolderName, s.Score)
	}
	return nil
}

func shellHelp(_ context.Context, _ *app, out io.Writer, _ string) error {
	fmt.Fprintln(out, "commands:")
	for _, c := range shellCommands {
		fmt.Fprintf(out, "  %s\n", c.usage)
	}
	return nil
}
