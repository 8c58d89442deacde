package main

import (
	"github.com/wheelwright/wheelwright/pkg/cmd"
)

func main() {
	cmd.Execute()
}
