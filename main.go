// The main package for the govwatch executable.
package main

import "github.com/JakeFAU/govwatch/cmd"

func main() {
	cmd.Execute()
}
