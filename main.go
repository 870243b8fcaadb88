package main

import "github.com/redactyl/entropyscan/cmd/entropyscan"

func main() { entropyscan.Execute() }
