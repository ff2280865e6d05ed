package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/reqflow/internal/oauth"
)

func newOAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth2",
		Short: "Inspect or clear stored OAuth2 credentials",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <collection-dir>",
			Short: "List stored credentials of a collection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				engine, closeFn, err := a.oauthEngine(cmd)
				if err != nil {
					return err
				}
				defer closeFn()
				col, err := loadCollection(args[0], "")
				if err != nil {
					return err
				}
				entries, err := engine.Entries(cmd.Context(), col.UID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CREDENTIALS\tURL\tEXPIRED\tSTORED")
				now := time.Now()
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", credentialsID(e.Key), e.Key.URL,
						e.Credentials.Expired(now), e.Credentials.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			},
		},
		newOAuthClearCmd(a),
	)
	return cmd
}

func newOAuthClearCmd(a *app) *cobra.Command {
	var tokenURL, credentialsID string
	cmd := &cobra.Command{
		Use:   "clear <collection-dir>",
		Short: "Remove stored credentials of a collection",
		Long: "Without --url every stored credential of the collection is removed. With --url only the\n" +
			"entry for that token URL and --credentials-id is removed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenURL == "" && cmd.Flags().Changed("credentials-id") {
				return fmt.Errorf("--credentials-id needs --url")
			}
			engine, closeFn, err := a.oauthEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			col, err := loadCollection(args[0], "")
			if err != nil {
				return err
			}
			if tokenURL != "" {
				key := oauth.CacheKey{CollectionUID: col.UID, URL: tokenURL, CredentialsID: credentialsID}
				if err := engine.Clear(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "cleared %s credential for %s\n", credentialsID, tokenURL)
				return nil
			}
			n, err := engine.ClearCollection(cmd.Context(), col.UID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "cleared %d credential(s) for %s\n", n, col.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenURL, "url", "", "token URL of the entry to remove")
	cmd.Flags().StringVar(&credentialsID, "credentials-id", "credentials", "credentials id of the entry to remove")
	return cmd
}

func (a *app) oauthEngine(cmd *cobra.Command) (*oauth.Engine, func(), error) {
	store, err := a.oauthStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	engine := oauth.NewEngine(nil, oauth.WithStore(store), oauth.WithLogger(a.log.WithName("oauth2")))
	return engine, func() { _ = store.Close() }, nil
}

func credentialsID(k oauth.CacheKey) string {
	if k.CredentialsID == "" {
		return "credentials"
	}
	return k.CredentialsID
}
