package main

import "github.com/agentic-research/classmap/cmd"

func main() {
	cmd.Execute()
}
