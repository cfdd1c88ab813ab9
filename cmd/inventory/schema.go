package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/schema"
)

const alterTimeout = time.Minute

func newSchemaCmd(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the Dgraph schema generated from the catalog",
		Long: `schema renders the predicate and type definitions of every registered
type. With --apply the schema is altered on the configured Dgraph cluster.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := schema.Default()
			if err != nil {
				return err
			}
			text, err := reg.DQLSchema()
			if err != nil {
				return err
			}
			if !apply {
				_, err := fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}

			d, err := graphstore.DialDgraph(a.cfg.DgraphEndpoint, a.logger)
			if err != nil {
				return err
			}
			defer d.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), alterTimeout)
			defer cancel()
			if err := d.Alter(ctx, text); err != nil {
				return err
			}
			a.logger.Info("schema applied", "endpoint", a.cfg.DgraphEndpoint)
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "alter the schema on Dgraph instead of printing it")
	return cmd
}
