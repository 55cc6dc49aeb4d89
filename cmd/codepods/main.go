package main

import "codepods/internal/cli"

func main() {
	cli.Execute()
}
