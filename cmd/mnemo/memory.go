package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemo-sh/mnemo/pkg/memory"
)

func newCoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "core",
		Short: "Manage always-in-context core memory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a core memory key (last writer wins)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.SQLiteStore) error {
				if err := store.SetCore(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("core/%s set\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Read a core memory key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.SQLiteStore) error {
				value, ok, err := store.GetCore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("core/%s not set", args[0])
				}
				fmt.Println(value)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a core memory key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.SQLiteStore) error {
				if err := store.DeleteCore(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("core/%s deleted\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List core memory entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.SQLiteStore) error {
				blocks, err := store.GetAllCore(cmd.Context())
				if err != nil {
					return err
				}
				if len(blocks) == 0 {
					fmt.Println("No core memory.")
					return nil
				}
				for _, b := range blocks {
					fmt.Printf("%s: %s\n", b.Key, b.Value)
				}
				return nil
			})
		},
	})

	return cmd
}

func newStoreCmd() *cobra.Command {
	var (
		tags  []string
		embed bool
	)
	cmd := &cobra.Command{
		Use:   "store <content>",
		Short: "Store an archival memory fact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var vec []float32
			if embed {
				embedder, err := newEmbedder(cfg)
				if err != nil {
					return err
				}
				vec, err = embedder.Embed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}

			id, err := store.Store(cmd.Context(), args[0], nil, vec, tags)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags to attach")
	cmd.Flags().BoolVar(&embed, "embed", true, "compute and store an embedding")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		mode    string
		limit   int
		tags    []string
		tagMode string
		rrfK    int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search archival memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			query := args[0]
			var results []memory.SearchResult
			switch mode {
			case "text":
				results, err = store.SearchText(cmd.Context(), query, limit, memory.DateRange{})
			case "vector", "hybrid":
				embedder, eErr := newEmbedder(cfg)
				if eErr != nil {
					return eErr
				}
				vec, eErr := embedder.Embed(cmd.Context(), query)
				if eErr != nil {
					return eErr
				}
				if mode == "vector" {
					results, err = store.SearchVector(cmd.Context(), vec, limit, memory.DateRange{})
				} else {
					results, err = store.SearchHybridRRF(cmd.Context(), query, vec, limit, rrfK)
				}
			case "tags":
				results, err = store.SearchWithTags(cmd.Context(), query, tags, memory.TagMatchMode(tagMode), limit)
			default:
				return fmt.Errorf("unknown search mode %q (available: text, vector, hybrid, tags)", mode)
			}
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Println("No results.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%.4f  %s  %s\n", r.Score, r.ID, r.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "text", "search mode: text, vector, hybrid or tags")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags for --mode tags")
	cmd.Flags().StringVar(&tagMode, "tag-mode", string(memory.TagMatchAny), "tag match mode: any or all")
	cmd.Flags().IntVar(&rrfK, "rrf-k", memory.DefaultRRFK, "reciprocal rank fusion constant")
	return cmd
}

func newRecallCmd() *cobra.Command {
	var (
		limit  int
		noCore bool
	)
	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Render a prompt-ready memory digest for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.SQLiteStore) error {
				out, err := store.Recall(cmd.Context(), args[0], !noCore, limit, memory.DateRange{})
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum archival lines")
	cmd.Flags().BoolVar(&noCore, "no-core", false, "skip core memory entries")
	return cmd
}

func newContextCmd() *cobra.Command {
	var maxArchival int
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Render the full memory context block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.SQLiteStore) error {
				out, err := store.ToContext(cmd.Context(), maxArchival)
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxArchival, "max", 10, "maximum recent archival facts")
	return cmd
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the session registry the daemon watches",
	}

	var project string
	touch := &cobra.Command{
		Use:   "touch <session-id>",
		Short: "Register a session and refresh its heartbeat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.SQLiteStore) error {
				if project != "" {
					if err := store.UpsertSession(cmd.Context(), args[0], project); err != nil {
						return err
					}
				}
				if err := store.TouchHeartbeat(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("session %s heartbeat updated\n", args[0])
				return nil
			})
		},
	}
	touch.Flags().StringVar(&project, "project", "", "project label for the session")
	cmd.AddCommand(touch)

	cmd.AddCommand(&cobra.Command{
		Use:   "stale",
		Short: "List sessions pending extraction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			staleAfter := secondsToDuration(cfg.Daemon.StaleSeconds)
			stale, err := store.StaleSessions(cmd.Context(), staleAfter)
			if err != nil {
				return err
			}
			if len(stale) == 0 {
				fmt.Println("No stale sessions.")
				return nil
			}
			for _, s := range stale {
				fmt.Printf("%s  project=%s  last_heartbeat=%s\n", s.ID, s.Project, s.LastHeartbeat.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	})

	return cmd
}

func withStore(fn func(*memory.SQLiteStore) error) error {
	cfg, err := loadCfg()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
