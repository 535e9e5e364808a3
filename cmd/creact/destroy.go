package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/creact-labs/creact-sub004/pkg/orchestrator"
)

func newDestroyCommand() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource in the stack, children first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !autoApprove {
				fmt.Printf("Destroy every resource in stack %q? [y/N]: ", cfg.Stack.Name)
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.ToLower(strings.TrimSpace(answer)) != "y" {
					fmt.Println(mutedStyle.Render("aborted"))
					return nil
				}
			}

			back, backCloser, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backCloser.Close()

			prov, err := openProvider(ctx, cfg)
			if err != nil {
				return err
			}

			o := orchestrator.New(cfg.Stack.Name, prov, back,
				orchestrator.WithLogger(log),
				orchestrator.WithUser(cfg.Stack.User))
			if err := o.Destroy(ctx); err != nil {
				return err
			}

			fmt.Println(successStyle.Render("✓ ") + "stack " + cfg.Stack.Name + " destroyed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the confirmation prompt")
	return cmd
}
