package main

import "github.com/raaihank/arguana-embed/internal/cli"

func main() {
	cli.Execute()
}
