package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Alijeyrad/keystone_backend/cmd/cmdutil"
	"github.com/Alijeyrad/keystone_backend/internal/lease"
	"github.com/Alijeyrad/keystone_backend/internal/pdfdoc"
	"github.com/Alijeyrad/keystone_backend/pkg/blob"
)

func NewLeaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Inspect lease templates",
	}

	cmd.AddCommand(NewResolveCommand())

	return cmd
}

func NewResolveCommand() *cobra.Command {
	var propertyFlag, landlordFlag string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which lease template a property resolves to",
		Long: `Resolve the lease template for a property: the template assigned to the
property wins, otherwise the landlord's single default template.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			propertyID, err := uuid.Parse(propertyFlag)
			if err != nil {
				return fmt.Errorf("invalid --property: %w", err)
			}
			landlordID, err := uuid.Parse(landlordFlag)
			if err != nil {
				return fmt.Errorf("invalid --landlord: %w", err)
			}

			cfg, err := cmdutil.LoadConfig(cmd)
			if err != nil {
				return err
			}
			store, db, err := cmdutil.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			fetcher := blob.NewHTTPFetcher(cfg.Signing.FetchTimeout(), cfg.Signing.MaxPDFBytes)
			svc := lease.New(store.Templates(), store.Assignments(), store, pdfdoc.NewComposer(), fetcher, nil, lease.Options{})

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Server.TimeoutSeconds)*time.Second)
			defer cancel()

			t, err := svc.ResolveTemplateForProperty(ctx, propertyID, landlordID)
			if errors.Is(err, lease.ErrNoTemplate) {
				fmt.Fprintln(cmd.OutOrStdout(), "no template resolves for this property")
				return nil
			}
			if err != nil {
				return err
			}
			return cmdutil.PrintJSON(cmd, t)
		},
	}

	cmd.Flags().StringVar(&propertyFlag, "property", "", "property id")
	cmd.Flags().StringVar(&landlordFlag, "landlord", "", "landlord id")
	_ = cmd.MarkFlagRequired("property")
	_ = cmd.MarkFlagRequired("landlord")

	return cmd
}
