package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/models"
)

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models [agent]",
		Short: "Show each agent's model chain and which entries have credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			resolver := models.NewResolver(cfg, models.WithEnv(os.LookupEnv))

			list := agents.All()
			if len(args) == 1 {
				a, ok := agents.Parse(args[0])
				if !ok {
					return fmt.Errorf("unknown agent %q", args[0])
				}
				list = []agents.Agent{a}
			}

			p := newPrinter(os.Stdout)
			p.printf("%s\n", renderModels(resolver, list))
			return nil
		},
	}
}

func renderModels(r *models.Resolver, list []agents.Agent) string {
	health := r.Health()
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("AGENT", "CHAIN", "USABLE", "RESOLVED")

	for _, a := range list {
		var chain []string
		for _, c := range r.Chain(a) {
			chain = append(chain, fmt.Sprintf("%s:%s (%s)", c.Provider, c.Model, c.Source))
		}

		usable := "none"
		if health[a] {
			var names []string
			for _, mc := range r.AvailableModels(a) {
				names = append(names, mc.String())
			}
			usable = strings.Join(names, "\n")
		}

		t.Row(a.String(), strings.Join(chain, "\n"), usable, r.Resolve(a).String())
	}
	return t.Render()
}
