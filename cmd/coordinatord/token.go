package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gridmesh/gridmesh/api"
	"github.com/gridmesh/gridmesh/config"
)

func genTokenCmd() *cobra.Command {
	var operator string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "gen-token",
		Short: "Mint an operator token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}
			token, err := api.GenerateOperatorToken(cfg.API.JWTSecret, operator, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "operator", "operator name embedded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
