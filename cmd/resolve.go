package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <query>",
	Short: "Resolve one location through the geocoder chain and print JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r := newResolver(ctx, cfg.Geocode)

		res := r.Resolve(ctx, strings.Join(args, " "))
		zap.L().Debug("resolver stats", zap.Any("stats", r.Stats()))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
