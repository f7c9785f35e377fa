package main

import (
	"fmt"
	"time"

	"github.com/campusiq/opsgovernor/auth"
	"github.com/campusiq/opsgovernor/models"
	"github.com/spf13/cobra"
)

func newTokenCmd(c *cli) *cobra.Command {
	var (
		user       string
		role       string
		department int64
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			validator, err := auth.NewValidator(auth.Config{
				Secret: c.cfg.Auth.JWTSecret,
				Issuer: c.cfg.Auth.Issuer,
				Leeway: c.cfg.Auth.Leeway,
			})
			if err != nil {
				return err
			}

			id := models.Identity{UserID: user, Role: models.Role(role)}
			if department > 0 {
				id.DepartmentID = &department
			}
			if ttl == 0 {
				ttl = c.cfg.Auth.TokenTTL
			}

			token, err := validator.Issue(id, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject (user id)")
	cmd.Flags().StringVar(&role, "role", "", "admin, faculty or student")
	cmd.Flags().Int64Var(&department, "department", 0, "department id for scoped roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
