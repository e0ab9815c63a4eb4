package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/runcoach/internal/plan"
)

var (
	planClient  string
	planFormat  string
	planVersion int
	planLimit   int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect stored training plans",
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current plan or a specific version",
	RunE:  runPlanShow,
}

var planHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List plan versions, newest first",
	RunE:  runPlanHistory,
}

func init() {
	planCmd.PersistentFlags().StringVarP(&planClient, "client", "c", "cli", "Client id")
	planCmd.PersistentFlags().StringVarP(&planFormat, "format", "f", "text", "Output format (text|json|yaml)")
	planShowCmd.Flags().IntVar(&planVersion, "version", 0, "Version to show, 0 for the current one")
	planHistoryCmd.Flags().IntVar(&planLimit, "limit", 20, "Maximum versions to list")

	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planHistoryCmd)
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	res, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(res)

	v, ok, err := res.Versions.GetCurrent(ctx, planClient)
	if planVersion > 0 {
		v, ok, err = res.Versions.GetVersion(ctx, planClient, planVersion)
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		if planVersion > 0 {
			return fmt.Errorf("version %d not found for client %q", planVersion, planClient)
		}
		fmt.Fprintf(out, "no plan yet for client %q\n", planClient)
		return nil
	}

	if planFormat == "text" {
		fmt.Fprintf(out, "version %d (current: %v, created %s)\n", v.Version, v.IsCurrent, v.CreatedAt.Format("2006-01-02 15:04"))
		fmt.Fprintln(out, plan.Summary(&v.Plan))
		for _, wk := range v.Plan.Weeks {
			fmt.Fprintf(out, "  %s: %d sessions\n", wk.Key, len(wk.Plan.Sessions))
		}
		return nil
	}
	return encodeOutput(out, planFormat, v)
}

func runPlanHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	res, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(res)

	versions, err := res.Versions.History(ctx, planClient, planLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if planFormat != "text" {
		return encodeOutput(out, planFormat, versions)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCURRENT\tCREATED\tSUMMARY")
	for _, v := range versions {
		fmt.Fprintf(tw, "%d\t%v\t%s\t%s\n", v.Version, v.IsCurrent, v.CreatedAt.Format("2006-01-02 15:04"), plan.Summary(&v.Plan))
	}
	return tw.Flush()
}

// encodeOutput writes v as indented JSON or as YAML. YAML is produced from
// the JSON encoding so week order and field names match the API.
func encodeOutput(w io.Writer, format string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "json":
		_, err = fmt.Fprintln(w, string(body))
		return err
	case "yaml", "yml":
		var node yaml.Node
		if err := yaml.Unmarshal(body, &node); err != nil {
			return err
		}
		blockStyle(&node)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (want text, json or yaml)", format)
	}
}

// blockStyle drops the flow and quoting styles a JSON source leaves on the
// tree. Tags stay, so strings that would read as numbers or bools are still
// quoted by the encoder.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
