package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	var category string
	var limit int
	memoriesCmd := &cobra.Command{
		Use:   "memories",
		Short: "List extracted memories, most important first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newProfileClient()
			if err != nil {
				return err
			}
			out, err := c.Memories(commandContext(cmd), category, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	memoriesCmd.Flags().StringVarP(&category, "category", "c", "", "Filter by category")
	memoriesCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of memories")
	rootCmd.AddCommand(memoriesCmd)

	var budget int
	var raw bool
	wakeCmd := &cobra.Command{
		Use:   "wake",
		Short: "Render the wake prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newProfileClient()
			if err != nil {
				return err
			}
			p, err := c.Wake(commandContext(cmd), budget)
			if err != nil {
				return err
			}
			if raw {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), p.Text)
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	wakeCmd.Flags().IntVarP(&budget, "budget", "b", 0, "Token budget (server default when 0)")
	wakeCmd.Flags().BoolVar(&raw, "raw", false, "Print only the prompt text")
	rootCmd.AddCommand(wakeCmd)
}
