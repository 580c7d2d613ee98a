package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "List the entries a PFS0/HFS0/XCI container holds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		container, _, err := openContainer(args[0])
		if err != nil {
			return err
		}
		for _, e := range container.List() {
			fmt.Printf("%10d  %s\n", e.Size, e.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
