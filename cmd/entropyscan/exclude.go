package entropyscan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/redactyl/entropyscan/internal/config"
	"github.com/redactyl/entropyscan/internal/report"
	"github.com/redactyl/entropyscan/internal/signature"
)

func init() {
	exCmd := &cobra.Command{Use: "exclude", Short: "Manage tartufo exclusions"}
	rootCmd.AddCommand(exCmd)

	exCmd.AddCommand(&cobra.Command{
		Use:   "add <signature>...",
		Short: "Append signatures to the exclusion file",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExcludeAdd,
	})
	exCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the exclusions in effect for the workspace",
		Args:  cobra.NoArgs,
		RunE:  runExcludeList,
	})
	baseline := &cobra.Command{
		Use:   "baseline",
		Short: "Exclude the signature of every current finding",
		Long: "baseline scans the workspace and appends the signature of each finding to the " +
			"exclusion file, so only new findings are reported afterwards.",
		Args: cobra.NoArgs,
		RunE: runExcludeBaseline,
	}
	exCmd.AddCommand(baseline)
	baseline.Flags().StringVar(&flagInclude, "include", "", "comma-separated include globs")
	baseline.Flags().StringVar(&flagExclude, "exclude", "", "comma-separated exclude globs")
	baseline.Flags().BoolVar(&flagTracked, "tracked", false, "only scan files tracked by git")
}

func runExcludeAdd(cmd *cobra.Command, args []string) error {
	for _, sig := range args {
		if !signature.Valid(sig) {
			return fmt.Errorf("invalid signature %q: want 64 hex characters", sig)
		}
	}
	root, err := resolveRoot(flagPath)
	if err != nil {
		return err
	}
	path, added, err := appendSignatures(root, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d signature(s) to %s\n", added, path)
	return nil
}

func runExcludeList(cmd *cobra.Command, _ []string) error {
	root, err := resolveRoot(flagPath)
	if err != nil {
		return err
	}
	lcfg, gcfg := loadFileConfigs(root)
	cfg, path, err := config.LoadExclusionsWith(root, pickString(flagExclusionsFile, lcfg.ExclusionsFile, gcfg.ExclusionsFile))
	if errors.Is(err, config.ErrNoExclusionFile) {
		fmt.Fprintln(cmd.OutOrStdout(), "No exclusion file found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load exclusions: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Exclusions from %s\n", path)
	table := tablewriter.NewWriter(out)
	table.Header("KIND", "VALUE", "DETAIL")
	rows := make([][]string, 0, len(cfg.Signatures)+len(cfg.PathPatterns)+len(cfg.EntropyPatterns))
	for _, s := range cfg.Signatures {
		rows = append(rows, []string{"signature", s, ""})
	}
	for _, p := range cfg.PathPatterns {
		rows = append(rows, []string{"path", p, ""})
	}
	for _, p := range cfg.EntropyPatterns {
		detail := "scope=" + string(p.Scope)
		if p.Reason != "" {
			detail += " reason=" + strings.TrimSpace(p.Reason)
		}
		rows = append(rows, []string{"entropy", p.String(), detail})
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}

func runExcludeBaseline(cmd *cobra.Command, _ []string) error {
	root, err := resolveRoot(flagPath)
	if err != nil {
		return err
	}
	lcfg, gcfg := loadFileConfigs(root)
	eng := newEngine(root, pickString(flagExclusionsFile, lcfg.ExclusionsFile, gcfg.ExclusionsFile))
	res, err := eng.ScanWorkspace(cmd.Context(), workspaceConfig(cmd, root, lcfg, gcfg))
	if err != nil {
		return fmt.Errorf("scan error: %w", err)
	}
	sigs := report.Signatures(res.Findings())
	if len(sigs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No findings; nothing to exclude")
		return nil
	}
	path, added, err := appendSignatures(root, sigs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d signature(s) to %s\n", added, path)
	return nil
}

// appendSignatures writes to the configured exclusion file, or to the
// discovered one, creating tartufo.toml when there is none.
func appendSignatures(root string, sigs []string) (string, int, error) {
	lcfg, gcfg := loadFileConfigs(root)
	if target := config.ResolveExclusionsFile(root, pickString(flagExclusionsFile, lcfg.ExclusionsFile, gcfg.ExclusionsFile)); target != "" {
		n, err := config.AppendSignatures(target, sigs...)
		if err != nil {
			return target, 0, fmt.Errorf("update %s: %w", target, err)
		}
		return target, n, nil
	}
	path, n, err := config.AddSignatureExclusions(root, sigs...)
	if err != nil {
		return path, 0, fmt.Errorf("update exclusions: %w", err)
	}
	return path, n, nil
}
