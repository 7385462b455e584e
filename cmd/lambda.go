package cmd

import (
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/stevemurr/list-sync-server/lambdaproxy"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve lists as an AWS Lambda function behind an API Gateway HTTP API",
	Long: `lambda runs the same HTTP stack as serve, fed by API Gateway payload
format 2.0 events. Use it with the dynamodb store backend; local files do not
survive between invocations.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.StoreBackend != "dynamodb" {
			slog.Warn("Lambda storage is ephemeral, use the dynamodb backend", "store", cfg.StoreBackend)
		}
		a, err := build(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		lambda.StartWithOptions(lambdaproxy.New(a.handler), lambda.WithContext(cmd.Context()))
		return nil
	},
}
