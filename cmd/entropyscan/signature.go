package entropyscan

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/redactyl/entropyscan/internal/signature"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "signature <text> <relpath>",
		Short: "Print the tartufo exclusion signature of a string in a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel := filepath.ToSlash(args[1])
			if filepath.IsAbs(args[1]) {
				return fmt.Errorf("relpath must be relative to the workspace root: %s", args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), signature.Of(args[0], rel))
			return nil
		},
		Example: `
entropyscan signature "KEY=c2VjcmV0LWtleS1tYXRlcmlhbC0wMTIzNDU2Nzg5" config/app.env
`,
	})
}
