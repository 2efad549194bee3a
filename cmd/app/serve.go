package main

import (
	"github.com/spf13/cobra"
)

func serveCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, price consumer, job workers and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, _, err := load()
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
