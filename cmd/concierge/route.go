package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/normanking/concierge/internal/router"
	"github.com/normanking/concierge/internal/topic"
)

func routeCmd() *cobra.Command {
	var (
		thread string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "route [message]",
		Short: "Print the routing decision for a message without answering it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			message := strings.Join(args, " ")
			ctx := context.Background()

			var rc *topic.RoutingContext
			if thread != "" {
				rc, err = a.topics.GetRoutingContext(ctx, thread, message)
				if err != nil {
					return err
				}
			}

			opts := router.Options{}
			if rc != nil {
				opts.Topic = rc.Context
			}
			d := a.router.Route(ctx, message, opts)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Decision *router.Decision      `json:"decision"`
					Topic    *topic.RoutingContext `json:"topic,omitempty"`
				}{d, rc})
			}

			p := newPrinter(os.Stdout)
			p.decision(d)
			if rc != nil && rc.Switch.Switched {
				p.note("topic switch: %q", rc.Switch.Phrase)
			}
			if rc != nil && rc.Suggestion != nil {
				p.note("%s", rc.Suggestion.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&thread, "thread", "", "use the topic state of an existing thread")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	return cmd
}
