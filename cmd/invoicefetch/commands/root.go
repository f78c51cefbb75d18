package commands

import (
	"context"
	"fmt"
	"os"

	"invoicefetch/lib/telemetry"

	"github.com/spf13/cobra"
)

var configPath string
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "invoicefetch",
	Short: "invoicefetch downloads storefront invoices and archives them locally and/or into paperless-ngx.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "invoicefetch.json5", "Path to the configuration file.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
