// This program provides administrative tooling for a node operator:
// generating and inspecting the node identity.
package main

import (
	"fmt"
	"os"

	"github.com/The-Sycorax/denaro/app/tooling/admin/commands"
	"github.com/spf13/cobra"
)

func main() {
	root := cobra.Command{
		Use:   "admin",
		Short: "denaro node administration",
	}

	root.AddCommand(commands.GenKey(), commands.ShowID())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
