// Package entropyscan provides the command-line interface for entropyscan.
// It wires the scan, serve, watch, exclude and signature subcommands to the
// engine and executes the selected command.
//
// Typical usage from a main package:
//
//	package main
//	import "github.com/redactyl/entropyscan/cmd/entropyscan"
//	func main() { entropyscan.Execute() }
package entropyscan
