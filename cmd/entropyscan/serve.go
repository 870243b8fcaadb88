package entropyscan

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/redactyl/entropyscan/internal/lsp"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the language server on stdin/stdout",
		Long: "serve speaks the Language Server Protocol over stdio. Diagnostics are published for " +
			"open documents and a quick fix appends the finding's signature to tartufo.toml.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			override := flagExclusionsFile
			if override == "" {
				if lcfg, gcfg := loadFileConfigs(flagPath); lcfg.ExclusionsFile != nil || gcfg.ExclusionsFile != nil {
					override = pickString("", lcfg.ExclusionsFile, gcfg.ExclusionsFile)
				}
			}
			srv := lsp.NewServer(cmd.InOrStdin(), cmd.OutOrStdout(),
				lsp.WithLogger(log.With().Str("component", "lsp").Logger()),
				lsp.WithVersion(version),
				lsp.WithExclusionsFile(override),
			)
			log.Info().Str("version", version).Msg("language server started")
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	rootCmd.AddCommand(cmd)
}
