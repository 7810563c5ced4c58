package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jennifer88huang/gtplanner/internal/sessions"
	"github.com/jennifer88huang/gtplanner/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored planning sessions",
	}

	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsSearchCmd())
	cmd.AddCommand(sessionsStatsCmd())
	cmd.AddCommand(sessionsArchiveCmd())
	cmd.AddCommand(sessionsDeleteCmd())

	return cmd
}

// withManager opens the store and hands a sessions manager to fn.
func withManager(fn func(ctx context.Context, mgr *sessions.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), sessions.NewManager(st))
}

func sessionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, mgr *sessions.Manager) error {
				list, err := mgr.ListSessions(ctx, limit, 0)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No sessions.")
					return nil
				}
				fmt.Printf("%-10s %-40s %9s %8s  %s\n", "ID", "TITLE", "MESSAGES", "TOKENS", "LAST ACTIVITY")
				for _, s := range list {
					title := s.Title
					if title == "" {
						title = "(untitled)"
					}
					if len(title) > 40 {
						title = title[:39] + "…"
					}
					fmt.Printf("%-10s %-40s %9d %8d  %s\n",
						shortID(s.ID), title, s.TotalMessages, s.TotalTokens,
						s.LastActivity.Format("2006-01-02 15:04"))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum sessions to show")
	return cmd
}

func sessionsSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over stored messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withManager(func(ctx context.Context, mgr *sessions.Manager) error {
				hits, err := mgr.SearchSessions(ctx, query, limit)
				if err != nil {
					return err
				}
				if len(hits) == 0 {
					fmt.Println("No matches.")
					return nil
				}
				for _, h := range hits {
					fmt.Printf("%s  [%s]  %s\n", shortID(h.SessionID), h.Role, h.Snippet)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum hits to show")
	return cmd
}

func sessionsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Show one session's stored activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, mgr *sessions.Manager) error {
				sess, err := mgr.LoadSessionByPrefix(ctx, args[0])
				if err != nil {
					return err
				}
				stats, err := mgr.Statistics(ctx, sess.ID)
				if err != nil {
					return err
				}
				printStats(stats)
				return nil
			})
		},
	}
}

func printStats(stats *store.SessionStatistics) {
	s := stats.Session
	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("Session:          %s\n", s.ID)
	fmt.Printf("Title:            %s\n", title)
	fmt.Printf("Created:          %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last activity:    %s\n", s.LastActivity.Format("2006-01-02 15:04:05"))
	fmt.Printf("Messages:         %d (tokens ~%d)\n", s.TotalMessages, s.TotalTokens)
	for role, n := range stats.MessagesByRole {
		fmt.Printf("  %-15s %d\n", role+":", n)
	}
	fmt.Printf("Tool executions:  %d (%d failed)\n", stats.ToolExecutions, stats.FailedExecutions)
	fmt.Printf("Context versions: %d (active v%d)\n", stats.ContextVersions, stats.ActiveVersion)
}

func sessionsArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <session-id>",
		Short: "Archive a session (kept listed, marked done)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, mgr *sessions.Manager) error {
				sess, err := mgr.LoadSessionByPrefix(ctx, args[0])
				if err != nil {
					return err
				}
				if err := mgr.ArchiveSession(ctx, sess.ID); err != nil {
					return err
				}
				fmt.Printf("Archived session %s.\n", shortID(sess.ID))
				return nil
			})
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Soft-delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, mgr *sessions.Manager) error {
				sess, err := mgr.LoadSessionByPrefix(ctx, args[0])
				if err != nil {
					return err
				}
				if err := mgr.DeleteSession(ctx, sess.ID); err != nil {
					return err
				}
				fmt.Printf("Deleted session %s.\n", shortID(sess.ID))
				return nil
			})
		},
	}
}
