package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/store"
)

var (
	copyDriver string
	copyPath   string
	copyDSN    string
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Record store maintenance",
}

var storeCopyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy every record from the configured store into another backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		src, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		dst, err := store.Open(ctx, store.Config{Driver: copyDriver, Path: copyPath, DSN: copyDSN})
		if err != nil {
			return eris.Wrap(err, "open destination store")
		}
		defer dst.Close() //nolint:errcheck

		n, err := store.Copy(ctx, src, dst)
		if err != nil {
			return err
		}
		zap.L().Info("records copied",
			zap.String("from", cfg.Store.Driver),
			zap.String("to", copyDriver),
			zap.Int64("records", n),
		)
		_, _ = fmt.Fprintf(os.Stdout, "copied %s records\n", humanize.Comma(n))
		return nil
	},
}

func init() {
	storeCopyCmd.Flags().StringVar(&copyDriver, "to-driver", store.DriverPebble, "destination driver (sqlite, pebble, postgres)")
	storeCopyCmd.Flags().StringVar(&copyPath, "to-path", "", "destination SQLite file or Pebble directory")
	storeCopyCmd.Flags().StringVar(&copyDSN, "to-dsn", "", "destination Postgres connection string")
	storeCmd.AddCommand(storeCopyCmd)
	rootCmd.AddCommand(storeCmd)
}
