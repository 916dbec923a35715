package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "List the active members of a cluster",
	Args:  cobra.NoArgs,
	RunE:  runMembers,
}

func init() {
	rootCmd.AddCommand(membersCmd)
}

func runMembers(cmd *cobra.Command, args []string) error {
	return withCluster(func(ctx context.Context, c *clusterClient) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tENDPOINT\tKEYS\tLOAD")
		for _, n := range c.roster.Nodes {
			marker := ""
			if n.ID == c.roster.NodeID {
				marker = " *"
			}
			fmt.Fprintf(w, "%s%s\t%s\t%d\t%.2f\n", n.ID, marker, n.Endpoint, n.KeyCount, n.Load)
		}
		return w.Flush()
	})
}
