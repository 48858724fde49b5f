package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/pkg/store"
	"github.com/gatewarden/gatewarden/pkg/urlpath"
)

var (
	addSiteID     string
	addSiteAlias  string
	addAdminEmail string
)

var addSiteCmd = &cobra.Command{
	Use:   "add-site",
	Short: "Provision a new protected site",
	Long: `Create a site with its first alias, an admin user and a root
location granted to the admin. The admin can then manage the site
through the admin API.`,
	RunE: runAddSite,
}

func init() {
	addSiteCmd.Flags().StringVar(&addSiteID, "site-id", "",
		"unique site identifier")
	addSiteCmd.Flags().StringVar(&addSiteAlias, "alias", "",
		"site URL (scheme://host[:port])")
	addSiteCmd.Flags().StringVar(&addAdminEmail, "admin-email", "",
		"email address of the site admin")

	_ = addSiteCmd.MarkFlagRequired("site-id")
	_ = addSiteCmd.MarkFlagRequired("alias")
	_ = addSiteCmd.MarkFlagRequired("admin-email")

	rootCmd.AddCommand(addSiteCmd)
}

func runAddSite(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	alias, err := urlpath.ValidateSiteURL(addSiteAlias)
	if err != nil {
		return fmt.Errorf("invalid alias: %w", err)
	}

	email, ok := store.NormalizeEmail(addAdminEmail)
	if !ok {
		return fmt.Errorf("invalid admin email: %s", addAdminEmail)
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database, cfg.Limits)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	if err := st.CreateSite(ctx, &store.Site{SiteID: addSiteID}); err != nil {
		return fmt.Errorf("creating site: %w", err)
	}

	if _, err := st.CreateAlias(ctx, addSiteID, alias); err != nil {
		return fmt.Errorf("creating alias: %w", err)
	}

	admin, err := st.CreateUser(ctx, addSiteID, email)
	if err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}

	root, err := st.CreateLocation(ctx, addSiteID, "/")
	if err != nil {
		return fmt.Errorf("creating root location: %w", err)
	}

	if _, _, err := st.GrantPermission(
		ctx, addSiteID, root.UUID, admin.UUID,
	); err != nil {
		return fmt.Errorf("granting root access: %w", err)
	}

	log.WithField("site", addSiteID).
		WithField("alias", alias).
		WithField("admin", email).
		Info("Site provisioned")

	return nil
}
