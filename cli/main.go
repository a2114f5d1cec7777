package main

import "github.com/zhaobenny/clawtop/cli/internal/commands"

func main() {
	commands.Execute()
}
