package entropyscan

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/redactyl/entropyscan/internal/lsp"
)

var (
	flagPath           string
	flagLogLevel       string
	flagNoColor        bool
	flagExclusionsFile string

	version = "0.1.0"

	log = zerolog.Nop()
)

// errFindings makes Execute exit 1 without printing an error.
var errFindings = errors.New("high-entropy strings found")

// rootCmd is the base Cobra command for the entropyscan CLI.
var rootCmd = &cobra.Command{
	Use:   "entropyscan",
	Short: "Find high-entropy strings in your workspace",
	Long: "entropyscan flags base64 and hex runs with high Shannon entropy, honours tartufo " +
		"exclusions, and runs as a batch scanner, a file watcher or a language server.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		lvl := flagLogLevel
		if !cmd.Flags().Changed("log-level") {
			if lcfg, gcfg := loadFileConfigs(flagPath); lcfg.LogLevel != nil || gcfg.LogLevel != nil {
				lvl = pickString("", lcfg.LogLevel, gcfg.LogLevel)
			}
		}
		l, err := newLogger(lvl, flagNoColor)
		if err != nil {
			return err
		}
		log = l
		return nil
	},
}

// Execute runs the entropyscan CLI. It should be called by the main package.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errFindings):
		return 1
	case errors.Is(err, lsp.ErrExitWithoutShutdown):
		return 1
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return 2
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&flagPath, "path", "p", ".", "workspace path")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colorized output")
	rootCmd.PersistentFlags().StringVar(&flagExclusionsFile, "exclusions-file", "", "read exclusions from this TOML file instead of tartufo.toml/pyproject.toml")
}
