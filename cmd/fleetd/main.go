package main

import (
	"github.com/africapayments/fleetd/cmd/fleetd/commands"
)

func main() {
	commands.Execute()
}
