package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jennifer88huang/gtplanner/internal/agent"
	"github.com/jennifer88huang/gtplanner/internal/compressor"
	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/sessions"
	"github.com/jennifer88huang/gtplanner/internal/stream"
)

func chatCmd() *cobra.Command {
	var (
		message    string
		sessionRef string
		newSession bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the planner in the terminal",
		Long: `Chat with the planning agent interactively or send a one-shot message.

Examples:
  gtplanner chat                       # Interactive REPL with session picker
  gtplanner chat --new                 # Start a fresh session
  gtplanner chat -s 9f3a               # Continue a session by id prefix
  gtplanner chat -m "plan a blog app"  # One-shot message`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(message, sessionRef, newSession)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "session id or prefix to continue")
	cmd.Flags().BoolVar(&newSession, "new", false, "start a fresh session")

	return cmd
}

func runChat(message, sessionRef string, newSession bool) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	providerReg := providers.NewRegistry()
	registerProviders(providerReg, cfg)
	provider, err := resolveProvider(providerReg, cfg)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mgr := sessions.NewManager(st)

	comp := compressor.New(mgr, compressionProvider(providerReg, provider, cfg), cfg.Compressor)
	comp.Start()
	defer comp.Stop()

	registry := buildToolRegistry(provider, cfg)
	engine := agent.NewEngine(provider, registry, cfg.Agent)
	planner := agent.NewPlanner(engine, mgr, comp, cfg.Agent.Language)

	ctx := context.Background()
	sessionID, err := chooseSession(ctx, mgr, sessionRef, newSession, message != "")
	if err != nil {
		return err
	}

	runOnce := func(input string) error {
		sess := stream.NewSession(sessionID)
		sess.AddHandler(stream.NewTerminalHandler(os.Stdout))
		defer sess.Stop()

		_, err := planner.Run(ctx, sessionID, input, sess)
		return err
	}

	if message != "" {
		return runOnce(message)
	}

	fmt.Printf("Session %s — type your request, 'exit' to quit.\n", shortID(sessionID))
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := runOnce(input); err != nil {
			var verr *agent.ValidationError
			if errors.As(err, &verr) {
				fmt.Fprintln(os.Stderr, verr.Error())
				continue
			}
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		}
	}
}

// chooseSession resolves the session to chat in: an explicit reference,
// a fresh session, or an interactive pick over recent sessions.
func chooseSession(ctx context.Context, mgr *sessions.Manager, ref string, fresh, oneShot bool) (string, error) {
	if ref != "" {
		sess, err := mgr.LoadSessionByPrefix(ctx, ref)
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	}
	if fresh || oneShot {
		sess, err := mgr.CreateSession(ctx, "")
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	}

	recent, err := mgr.ListSessions(ctx, 10, 0)
	if err != nil {
		return "", err
	}
	if len(recent) == 0 {
		sess, err := mgr.CreateSession(ctx, "")
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	}

	const newChoice = "new"
	options := []huh.Option[string]{huh.NewOption("Start a new session", newChoice)}
	for _, s := range recent {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		label := fmt.Sprintf("%s  %s  (%d messages)", shortID(s.ID), title, s.TotalMessages)
		options = append(options, huh.NewOption(label, s.ID))
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Continue a session?").
			Options(options...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}

	if choice == newChoice {
		sess, err := mgr.CreateSession(ctx, "")
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	}
	return choice, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
