package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/creact-labs/creact-sub004/pkg/backend"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect persisted deployment state",
	}
	cmd.AddCommand(newStateShowCommand())
	cmd.AddCommand(newStateAuditCommand())
	return cmd
}

func newStateShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stack's persisted resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			back, closer, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			st, err := back.GetState(ctx, cfg.Stack.Name)
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Println(mutedStyle.Render("stack " + cfg.Stack.Name + " has never been deployed"))
				return nil
			}

			fmt.Println(titleStyle.Render("Stack "+st.StackName) +
				mutedStyle.Render("  status="+st.Status+"  lastDeployed="+st.LastDeployedAt.Format("2006-01-02 15:04:05")))
			if st.ApplyingNodeID != "" {
				fmt.Println(errorStyle.Render("interrupted while applying: ") + st.ApplyingNodeID)
			}

			fmt.Println(headerStyle.Render(fmt.Sprintf("  %-40s %-16s %-10s %s", "ID", "TYPE", "STATE", "OUTPUTS")))
			for _, n := range st.Nodes {
				keys := make([]string, 0, len(n.Outputs))
				for k := range n.Outputs {
					keys = append(keys, k)
				}
				fmt.Printf("  %-40s %-16s %-10s %s\n",
					n.ID, n.ConstructType, n.State, mutedStyle.Render(strings.Join(keys, ",")))
			}
			return nil
		},
	}
}

func newStateAuditCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the stack's audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			back, closer, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			logger, ok := back.(backend.AuditLogger)
			if !ok {
				return fmt.Errorf("backend %q does not keep an audit log", cfg.Backend.Type)
			}

			entries, err := logger.GetAuditLog(ctx, cfg.Stack.Name, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(mutedStyle.Render("no audit entries for stack " + cfg.Stack.Name))
				return nil
			}

			for _, e := range entries {
				line := fmt.Sprintf("%s  %-20s %s",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.NodeID)
				if e.Details != "" {
					line += mutedStyle.Render("  " + e.Details)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show")
	return cmd
}
