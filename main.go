package main

import (
	"github.com/sidkik/remotesync/cmd"
	"github.com/sidkik/remotesync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
