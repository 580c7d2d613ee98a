package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file> <entry> <output>",
	Short: "Extract one named entry from a container to a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		container, _, err := openContainer(args[0])
		if err != nil {
			return err
		}
		entry, ok := container.Get(args[1])
		if !ok {
			return fmt.Errorf("entry %q not found", args[1])
		}
		stream, err := container.Open(entry)
		if err != nil {
			return err
		}

		out, err := os.Create(args[2])
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()

		n, err := io.Copy(out, stream)
		if err != nil {
			return fmt.Errorf("extract %q: %w", args[1], err)
		}
		fmt.Printf("wrote %d bytes to %s\n", n, args[2])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
