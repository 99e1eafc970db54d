package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javi11/nntpchand/auth"
)

func newPasswdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <user>",
		Short: "Print a login db line for user, reading the password from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := bufio.NewScanner(cmd.InOrStdin())
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return err
				}
				return fmt.Errorf("no password on stdin")
			}
			pass := strings.TrimRight(sc.Text(), "\r")
			if pass == "" {
				return fmt.Errorf("empty password")
			}

			line, err := auth.Entry(args[0], pass)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), line)
			return err
		},
	}
}
