// Package core provides a small, stable facade over entropyscan's internal
// engine for external integrations such as pre-commit hooks and editor
// plugins that do not speak the language server protocol.
//
// Example:
//
//	findings, err := core.Scan(ctx, core.Config{Root: "."})
//	if err != nil { /* handle */ }
//	_ = core.MarshalFindings(os.Stdout, findings)
package core
