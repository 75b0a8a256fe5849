package cli

import (
	"errors"
	"fmt"
	"io"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/config"
	pginfra "coach-assessment-service/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewCatalogCmd groups the offline catalog tooling.
func NewCatalogCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate, build and publish question catalogs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a catalog source or artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := buildCatalog(cmd.OutOrStdout(), args[0])
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "build <src> <out>",
		Short: "Normalise a catalog source and write a versioned JSON artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildCatalog(cmd.OutOrStdout(), args[0])
			if err != nil {
				return err
			}
			if err := catalog.WriteArtifact(args[1], a); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "publish <artifact>",
		Short: "Store a catalog in Postgres and make it the active version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errNoPostgres
			}
			a, err := buildCatalog(io.Discard, args[0])
			if err != nil {
				return err
			}
			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pginfra.NewCatalogLoader(pool).Publish(cmd.Context(), a); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published catalog %s\n", a.Version)
			return nil
		},
	})
	return cmd
}

// buildCatalog loads and builds path, reporting every validation problem to out.
func buildCatalog(out io.Writer, path string) (catalog.Artifact, error) {
	src, err := catalog.LoadFile(path)
	if err != nil {
		return catalog.Artifact{}, err
	}
	a, err := catalog.Build(src)
	if err != nil {
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
		}
		return catalog.Artifact{}, err
	}
	fmt.Fprintf(out, "catalog %s: %d modules, %d questions, %d groups, %d scoring rules\n",
		a.Version, len(a.Modules), len(a.Questions), len(a.Groups), len(a.ScoringRules))
	return a, nil
}
