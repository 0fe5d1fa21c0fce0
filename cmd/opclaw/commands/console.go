package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jholhewres/opclaw/pkg/opclaw/copilot"
	"github.com/jholhewres/opclaw/pkg/opclaw/copilot/security"
	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newConsoleCmd creates the `opclaw console` dry-run REPL.
func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Try utterances locally without touching Discord",
		Long: `Starts a local REPL that classifies each line the way the bot would.
Administrative requests are synthesized and checked by the safety filter,
and the resulting action program is printed. Nothing is ever executed.

Lines can also be piped in:
  echo "create a text channel named logs" | opclaw console`,
		RunE: runConsole,
	}
}

// console holds the dry-run pipeline.
type console struct {
	router  *copilot.IntentRouter
	actions *copilot.Actions
	session *copilot.Session
	out     io.Writer
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Logging.Level = "warn"
	logger := newLogger(cmd, cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := llm.New(ctx, cfg.LLM.Config, logger)
	if err != nil {
		return fmt.Errorf("creating %s client: %w", cfg.LLM.Provider, err)
	}
	defer client.Close()

	system := copilot.SystemPrompt(cfg.Name)
	tools := copilot.Tools()
	store := copilot.NewSessionStore(cfg.Session.TTL, func() llm.Conversation {
		return client.StartChat(system, tools)
	}, logger)
	defer store.Close()

	// Preview only uses the synthesizer and the filter; no engine, binder or
	// channel is wired.
	synth := copilot.NewSynthesizer(client, cfg.LLM.Timeout, nil, logger)
	filter := security.NewFilter(cfg.Execution.DenylistExtra)

	c := &console{
		router:  copilot.NewIntentRouter(store, cfg.LLM.Timeout, nil, logger),
		actions: copilot.NewActions(synth, filter, nil, nil, nil, nil, nil, logger),
		session: store.GetOrCreate("console"),
		out:     os.Stdout,
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			c.handle(ctx, scanner.Text())
		}
		return scanner.Err()
	}

	return c.repl(ctx, cfg.Name)
}

func (c *console) repl(ctx context.Context, name string) error {
	history := ""
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".opclaw_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     history,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting console: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(c.out, "%s console (dry run). Type 'exit' to quit.\n", name)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return nil
		}
		c.handle(ctx, line)
	}
}

// handle classifies one line and prints what the bot would do.
func (c *console) handle(ctx context.Context, line string) {
	utterance := copilot.CleanUtterance(line)
	if utterance == "" {
		return
	}

	res, err := c.router.Classify(ctx, c.session, utterance)
	if err != nil {
		fmt.Fprintf(c.out, "model error: %v\n", err)
		return
	}

	switch r := res.(type) {
	case copilot.FreeText:
		fmt.Fprintf(c.out, "bot> %s\n", r.Text)
	case copilot.StructuredCall:
		c.describe(ctx, r)
	}
}

func (c *console) describe(ctx context.Context, call copilot.StructuredCall) {
	capability, err := copilot.ParseCapability(call)
	if err != nil {
		fmt.Fprintf(c.out, "dispatch error: %v\n", err)
		return
	}

	cmd, ok := capability.(copilot.ExecuteCommand)
	if !ok {
		args, _ := json.Marshal(call.Args)
		fmt.Fprintf(c.out, "would dispatch %s %s\n", capability.Tool(), args)
		return
	}

	fmt.Fprintf(c.out, "synthesizing: %s\n", cmd.Description)
	source, prog, err := c.actions.Preview(ctx, cmd.Description)
	if source != "" {
		fmt.Fprintf(c.out, "program:\n%s\n", indentJSON(source))
	}
	if err != nil {
		fmt.Fprintf(c.out, "rejected: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "accepted: %d step(s), not executed\n", len(prog.Steps))
}

func indentJSON(source string) string {
	var v any
	if err := json.Unmarshal([]byte(source), &v); err != nil {
		return source
	}
	out, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return source
	}
	return "  " + string(out)
}
