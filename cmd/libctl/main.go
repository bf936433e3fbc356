// Command libctl is the command-line client of the campus library API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"campuslib/internal/clients"
)

type cli struct {
	server      string
	serverSet   bool
	sessionPath string
	session     *session
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "libctl",
		Short:         "Campus library client",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.serverSet = cmd.Flags().Changed("server") || os.Getenv("CAMPUSLIB_URL") != ""
			if c.sessionPath == "" {
				path, err := defaultSessionPath()
				if err != nil {
					return err
				}
				c.sessionPath = path
			}
			s, err := loadSession(c.sessionPath)
			if err != nil {
				return err
			}
			c.session = s
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.server, "server", envOr("CAMPUSLIB_URL", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&c.sessionPath, "session", "", "session file (default: user config dir)")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.itemsCmd(),
		c.loansCmd(),
		c.reservationsCmd(),
		c.ratingsCmd(),
		c.notificationsCmd(),
		c.adminCmd(),
	)
	return root
}

// client returns an API client. Unless a server is given explicitly, the
// one the session logged in to is used.
func (c *cli) client() *clients.Client {
	server := c.server
	if !c.serverSet && c.session.Server != "" {
		server = c.session.Server
	}
	return clients.New(server, c.session.Token)
}

// authed is client for commands that need a login.
func (c *cli) authed() (*clients.Client, error) {
	if c.session.Token == "" {
		return nil, fmt.Errorf("not logged in; run libctl login")
	}
	return c.client(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
