package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/orchestrator"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

type askOptions struct {
	agent     string
	thread    string
	user      string
	stream    bool
	showTools bool
}

func askCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question (one-shot query)",
		Long: `Ask a question and print the answer.

Examples:
  concierge ask "turn on the living room light"
  concierge ask --agent finance "how much did I spend on groceries?"
  concierge ask --stream --show-tools "what's the weather tomorrow?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			req := &orchestrator.Request{
				Message:  strings.Join(args, " "),
				ThreadID: opts.thread,
				UserID:   opts.user,
			}
			if opts.agent != "" {
				a, ok := agents.Parse(opts.agent)
				if !ok {
					return errors.New("unknown agent " + opts.agent)
				}
				req.ForceAgent = a
			}
			if cmd.Flags().Changed("show-tools") {
				req.ShowTools = &opts.showTools
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			p := newPrinter(os.Stdout)
			if opts.stream {
				return streamAnswer(ctx, p, a.coord, req)
			}
			return printAnswer(ctx, p, a.coord, req)
		},
	}

	cmd.Flags().StringVar(&opts.agent, "agent", "", "force an agent (name or alias, e.g. code)")
	cmd.Flags().StringVar(&opts.thread, "thread", "", "continue an existing thread")
	cmd.Flags().StringVar(&opts.user, "user", "", "user id for memories")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "stream the answer as it is generated")
	cmd.Flags().BoolVar(&opts.showTools, "show-tools", false, "print tool calls")
	return cmd
}

func printAnswer(ctx context.Context, p *printer, coord *orchestrator.Coordinator, req *orchestrator.Request) error {
	res, err := coord.Process(ctx, req)
	if err != nil {
		return err
	}

	p.decision(res.Routing)
	showTools := req.ShowTools != nil && *req.ShowTools
	if showTools {
		for _, tc := range res.ToolCalls {
			status := "ok"
			if tc.Result != nil && !tc.Result.Success {
				status = "failed"
			}
			p.note("  %s %s (%s)", tc.Tool, status, tc.Duration.Round(time.Millisecond))
		}
	}
	if res.Handoff != nil {
		p.note("handed off to %s: %s", res.Handoff.To, res.Handoff.Reason)
	}
	if res.FallbackUsed {
		p.note("answered by fallback %s:%s", res.Provider, res.Model)
	}

	p.printf("%s\n", p.markdown(res.Content))
	p.note("thread %s", res.ThreadID)
	return nil
}

func streamAnswer(ctx context.Context, p *printer, coord *orchestrator.Coordinator, req *orchestrator.Request) error {
	var draft strings.Builder
	for ev := range coord.ProcessStream(ctx, req) {
		switch ev.Type {
		case orchestrator.EventRouting:
			p.decision(ev.Decision)
		case orchestrator.EventToolStart:
			p.note("  %s …", ev.Tool)
		case orchestrator.EventToolEnd:
			status := "ok"
			if !ev.Success {
				status = "failed"
			}
			p.note("  %s %s (%dms)", ev.Tool, status, ev.Duration.Milliseconds())
		case orchestrator.EventContent:
			draft.WriteString(ev.Content)
			p.printf("%s", ev.Content)
		case orchestrator.EventHandoff:
			p.printf("\n")
			p.note("handed off to %s: %s", ev.Handoff.To, ev.Handoff.Reason)
		case orchestrator.EventDone:
			p.printf("\n")
			if ev.Content != draft.String() {
				p.note("───")
				p.printf("%s\n", p.markdown(ev.Content))
			}
			p.note("thread %s", ev.ThreadID)
		case orchestrator.EventError:
			p.printf("\n")
			return errors.New(p.warn.Render(ev.Message))
		}
	}
	return nil
}
