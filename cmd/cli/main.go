package main

import "chanhub/cmd/cli/command"

func main() {
	command.Execute()
}
