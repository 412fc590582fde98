package main

import (
	"github.com/nebenchat/nebenchat/cmd"
	"github.com/nebenchat/nebenchat/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
