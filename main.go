package main

import (
	"SpotWire/cmd"
)

func main() {
	cmd.Execute()
}
