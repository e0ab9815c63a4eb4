package commands

import (
	"github.com/spf13/cobra"
)

var resetClient string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete a client's conversation and plan history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		res, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp(res)

		resp, err := res.Resetter.Reset(ctx, resetClient)
		if err != nil {
			return err
		}
		return encodeOutput(cmd.OutOrStdout(), "json", resp)
	},
}

func init() {
	resetCmd.Flags().StringVarP(&resetClient, "client", "c", "cli", "Client id")
}
