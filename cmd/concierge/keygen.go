package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/normanking/concierge/internal/auth"
	"github.com/normanking/concierge/internal/config"
)

func keygenCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key and the config entry that accepts it",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, hash, err := auth.GenerateKey(0)
			if err != nil {
				return err
			}

			p := newPrinter(os.Stdout)
			p.printf("%s\n\n", p.accent.Render(raw))
			p.note("Add to server.api_keys in your config; the key is not stored anywhere:")

			out, err := yaml.Marshal([]config.APIKey{{Name: name, Hash: hash}})
			if err != nil {
				return err
			}
			p.printf("%s", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "label for the key")
	return cmd
}
