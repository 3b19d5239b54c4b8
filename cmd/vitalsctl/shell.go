package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// shell command
func newShellCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell with command completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("shell needs a terminal on stdin")
			}

			// Open before the first line: every line rebuilds the command
			// tree and with it the persistent flag defaults.
			svc, err := app.service()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "vitals shell on %s. Type exit or Ctrl-D to leave.\n",
				svc.Config().Database.DSN)

			sh := &shell{app: app, ctx: cmd.Context(), completion: newRootCmd(app)}
			p := prompt.New(sh.execute, sh.complete,
				prompt.OptionPrefix("vitals> "),
				prompt.OptionTitle("vitalsctl"),
				prompt.OptionSetExitCheckerOnInput(isExit),
			)
			p.Run()
			return nil
		},
	}
}

type shell struct {
	app        *cliApp
	ctx        context.Context
	completion *cobra.Command
}

func isExit(in string, breakline bool) bool {
	in = strings.TrimSpace(in)
	return breakline && (in == "exit" || in == "quit")
}

func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 || isExit(line, true) {
		return
	}
	if args[0] == "shell" {
		fmt.Fprintln(os.Stderr, "already in the shell")
		return
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// cobra prints the error itself.
	_ = runLine(ctx, s.app, args)
}

// runLine executes one shell line on a fresh command tree so flag values do
// not leak between lines.
func runLine(ctx context.Context, app *cliApp, args []string) error {
	root := newRootCmd(app)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// complete suggests subcommands of the command named so far.
func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	words := strings.Fields(text)
	if len(words) > 0 && !strings.HasSuffix(text, " ") {
		words = words[:len(words)-1]
	}

	cmd := s.completion
	for _, w := range words {
		next := findSubcommand(cmd, w)
		if next == nil {
			return nil
		}
		cmd = next
	}

	var suggestions []prompt.Suggest
	for _, c := range cmd.Commands() {
		if c.Hidden || c.Name() == "help" || c.Name() == "completion" || c.Name() == "shell" {
			continue
		}
		suggestions = append(suggestions, prompt.Suggest{Text: c.Name(), Description: c.Short})
	}
	if cmd == s.completion {
		suggestions = append(suggestions, prompt.Suggest{Text: "exit", Description: "Leave the shell"})
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name || c.HasAlias(name) {
			return c
		}
	}
	return nil
}
