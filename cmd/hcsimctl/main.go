// Command hcsimctl is the control CLI for the hypercube overlay simulator.
package main

import "github.com/dantte-lp/hcsim/cmd/hcsimctl/commands"

func main() {
	commands.Execute()
}
