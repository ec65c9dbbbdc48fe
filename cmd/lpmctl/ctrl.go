package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(ctrlCmd)
}

// ctrlCmd opens an interactive multi-line batch editor, grounded in
// psaab-bpfrx's cmd/cli readline-based console: lines accumulate (blank
// lines are skipped, ^C discards the batch so far) until "apply" or end
// of input, then the whole batch is applied as one atomic
// pass via engine.Ctrl (spec.md §6's ctrl handler contract), matching
// the original element's HandlerCall-based batch write handler.
var ctrlCmd = &cobra.Command{
	Use:   "ctrl",
	Short: "interactive multi-line add/set/remove batch, applied atomically",
	RunE: func(cmd *cobra.Command, args []string) error {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "ctrl> ",
			HistoryFile:     "/tmp/lpmctl_ctrl_history",
			InterruptPrompt: "^C",
			EOFPrompt:       "apply",
			Stdin:           os.Stdin,
			Stdout:          os.Stdout,
			Stderr:          os.Stderr,
		})
		if err != nil {
			return err
		}
		defer rl.Close()

		var lines []string
		for {
			line, err := rl.Readline()
			if err == readline.ErrInterrupt {
				lines = nil
				continue
			}
			if err == io.EOF || strings.TrimSpace(line) == "apply" {
				break
			}
			if err != nil {
				return err
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			lines = append(lines, line)
		}

		if len(lines) == 0 {
			return nil
		}
		if err := eng.Ctrl(lines); err != nil {
			fmt.Fprintf(os.Stderr, "ctrl: %v\n", err)
			return err
		}
		fmt.Fprintf(os.Stdout, "applied %d operations\n", len(lines))
		return nil
	},
}
