// Package lsp implements a Language Server Protocol server over stdio that
// publishes high-entropy string diagnostics and offers a quick fix to
// exclude a finding by signature.
package lsp
