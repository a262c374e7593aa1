package main

import "github.com/softdim/softdim/cmd/softdim/commands"

func main() {
	commands.Execute()
}
