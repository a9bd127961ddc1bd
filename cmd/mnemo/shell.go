package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/mnemo-sh/mnemo/pkg/memory"
)

func newShellCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive recall shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.SQLiteStore) error {
				fmt.Println("mnemo shell (Ctrl+C to exit)")
				fmt.Println()
				runShell(cmd.Context(), store, limit)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum archival lines per recall")
	return cmd
}

func runShell(ctx context.Context, store *memory.SQLiteStore, limit int) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mnemo> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".mnemo_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleShell(ctx, store, limit)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleShellLine(ctx, store, line, limit) {
			return
		}
	}
}

func simpleShell(ctx context.Context, store *memory.SQLiteStore, limit int) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("mnemo> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleShellLine(ctx, store, line, limit) {
			return
		}
	}
}

// handleShellLine runs one shell command and reports whether the loop should
// continue. Lines starting with "store " write a fact; anything else is a
// recall query.
func handleShellLine(ctx context.Context, store *memory.SQLiteStore, line string, limit int) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return false
	}

	if content, ok := strings.CutPrefix(input, "store "); ok {
		id, err := store.Store(ctx, strings.TrimSpace(content), nil, nil, nil)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return true
		}
		fmt.Printf("stored %s\n\n", id)
		return true
	}

	out, err := store.Recall(ctx, input, true, limit, memory.DateRange{})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return true
	}
	fmt.Printf("\n%s\n\n", out)
	return true
}
