package main

import (
	"github.com/filbertlab/twoverlay/cmd/twoverlay/commands"
)

func main() {
	commands.Execute()
}
