package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cnmtCmd = &cobra.Command{
	Use:   "cnmt <file>",
	Short: "Print the CNMT title data packed into an XCI or NSP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		ks, titleKeys, err := loadKeyset()
		if err != nil {
			return err
		}

		_, titleSource, err := openContainer(args[0])
		if err != nil {
			return err
		}
		if titleSource == nil {
			return fmt.Errorf("%s: container does not carry CNMT title data", args[0])
		}

		cnmts, err := titleSource.CollectCnmts(ks, titleKeys)
		if err != nil {
			return err
		}
		if len(cnmts) == 0 {
			fmt.Println("no CNMT entries found")
			return nil
		}
		for _, c := range cnmts {
			fmt.Printf("title %s  type=%d  version=%d  contents=%d  meta_deps=%d\n",
				c.TitleIDString(), c.Header.MetaType, c.Header.TitleVersion,
				len(c.ContentEntries), len(c.MetaEntries))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cnmtCmd)
}
