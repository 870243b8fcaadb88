package entropyscan

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/redactyl/entropyscan/internal/config"
)

var (
	cfgOutput          string
	cfgInclude         string
	cfgExclude         string
	cfgThreads         int
	cfgMaxBytes        int64
	cfgNoColor         bool
	cfgDefaultExcludes bool
	cfgTracked         bool
	cfgFail            bool
	cfgExclusionsFile  string
	cfgForce           bool
)

func init() {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	rootCmd.AddCommand(cfgCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a .entropyscan.yml with the selected options",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
	cfgCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&cfgOutput, "output", config.LocalNames[0], "output file path")
	initCmd.Flags().StringVar(&cfgInclude, "include", "", "comma-separated include globs")
	initCmd.Flags().StringVar(&cfgExclude, "exclude", "", "comma-separated exclude globs")
	initCmd.Flags().IntVar(&cfgThreads, "threads", 0, "worker threads (0=GOMAXPROCS)")
	initCmd.Flags().Int64Var(&cfgMaxBytes, "max-bytes", defaultMaxBytes, "skip files larger than this")
	initCmd.Flags().BoolVar(&cfgNoColor, "no-color", false, "disable color output by default")
	initCmd.Flags().BoolVar(&cfgDefaultExcludes, "default-excludes", true, "enable default ignore patterns")
	initCmd.Flags().BoolVar(&cfgTracked, "tracked", false, "only scan files tracked by git")
	initCmd.Flags().BoolVar(&cfgFail, "fail", false, "exit 1 when findings are present")
	initCmd.Flags().StringVar(&cfgExclusionsFile, "exclusions-file", "", "exclusion file to use instead of tartufo.toml/pyproject.toml")
	initCmd.Flags().BoolVar(&cfgForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(cfgOutput); err == nil && !cfgForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgOutput)
	}
	fc := config.FileConfig{
		Include:         optStrPtr(cfgInclude),
		Exclude:         optStrPtr(cfgExclude),
		MaxBytes:        int64Ptr(cfgMaxBytes),
		Threads:         intPtr(cfgThreads),
		NoColor:         boolPtr(cfgNoColor),
		DefaultExcludes: boolPtr(cfgDefaultExcludes),
		Tracked:         boolPtr(cfgTracked),
		Fail:            boolPtr(cfgFail),
		ExclusionsFile:  optStrPtr(cfgExclusionsFile),
	}

	b, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfgOutput, b, 0644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Wrote", cfgOutput)
	return nil
}

func optStrPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }
