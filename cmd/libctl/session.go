package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"campuslib/internal/clients"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// session is the login state kept between invocations.
type session struct {
	Server string    `json:"server"`
	Token  string    `json:"token"`
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

func defaultSessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "campuslib", "session.json"), nil
}

func loadSession(path string) (*session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &session{}, nil
	}
	if err != nil {
		return nil, err
	}
	s := &session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", path, err)
	}
	return s, nil
}

func (s *session) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func (c *cli) loginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("CAMPUSLIB_PASSWORD")
			if password == "" {
				var err error
				if password, err = readPassword("Password: "); err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}
			client, user, err := clients.New(c.server, "").Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			s := &session{Server: c.server, Token: client.Token(), UserID: user.ID, Role: string(user.Role)}
			if err := s.save(c.sessionPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", user.Name, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.Remove(c.sessionPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
