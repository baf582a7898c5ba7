package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "steps-batch",
	Short: "Batch submission of step-count proof images",
	Long: `steps-batch turns a folder of step-count screenshots into daily records.

Each image is compressed, uploaded and extracted one at a time. Extracted values
go through review (low-confidence results need confirmation), then are committed.
Same-date collisions with stored records are resolved by policy.

Records are written to the remote record API, or to a local database when DB_URL
is set (sqlite path or postgres:// DSN). With STORAGE_LOCAL_DIR and OCR_ENABLED
proofs are stored and read locally with tesseract instead of the remote service.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars take precedence)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	rootCmd.AddCommand(runCmd, watchCmd, exportCmd, bulkCmd, dbhealthCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if _, werr := fmt.Fprintf(os.Stderr, "Error: %v\n", err); werr != nil {
			fmt.Printf("Error: %v\n", err)
		}
		os.Exit(1)
	}
}
