// Package config loads entropyscan settings and exclusions. Tool settings come
// from local and global YAML files with CLI > local > global precedence;
// exclusions come from tartufo.toml or the [tool.tartufo] table of
// pyproject.toml in the workspace root.
package config
