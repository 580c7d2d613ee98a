// Command nxfs is a CLI front end over the nxfs container-reading
// library: it sniffs a file's container format, and can list, extract,
// or dump the CNMT title data it holds.
//
// Grounded on kgiusti-go-fdo-server/cmd/{root.go,config.go} for the
// cobra+viper wiring and devlog logging setup, and on
// falk-nsz-go/cmd/nsz/main.go for the original single-binary shape this
// replaces (compression flags and the NSZ write path dropped; navigation
// and extraction kept and generalized to every container format).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ryouvc/nxfs/internal/logging"
)

var (
	keysPath      string
	titleKeysPath string
	cfgFile       string
	debug         bool
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "nxfs",
	Short: "Inspect and extract Nintendo Switch game-distribution containers",
	Long: `nxfs navigates NCA, PFS0/NSP, HFS0, RomFS, and XCI containers: list
the files a container holds, extract one, or dump its CNMT title data.`,
}

func init() {
	logging.Init(os.Stdout, false)

	rootCmd.PersistentFlags().StringVar(&keysPath, "keys", "", "Path to a prod.keys-style keyset file")
	rootCmd.PersistentFlags().StringVar(&titleKeysPath, "title-keys", "", "Path to a title.keys-style rights-ID file")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Pathname of a config file (keys/title-keys paths)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Print debug logs")
}

// Execute runs the root command. Called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig binds the persistent flags into viper, reads an optional
// config file, and falls back to the NXFS_KEYS/NXFS_TITLEKEYS environment
// variables, with viper's precedence (explicit flag > env > config file).
func loadConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	viper.SetEnvPrefix("NXFS")
	// "title-keys" is read from NXFS_TITLEKEYS, not NXFS_TITLE-KEYS.
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", ""))
	viper.AutomaticEnv()

	if cfgFile != "" {
		slog.Debug("loading config file", "path", cfgFile)
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	if debug || viper.GetBool("debug") {
		logging.Level.Set(slog.LevelDebug)
	}
	keysPath = viper.GetString("keys")
	titleKeysPath = viper.GetString("title-keys")
	return nil
}

func main() {
	Execute()
}
