// The main package for the regcrawl executable.
package main

import (
	_ "time/tzdata"

	"github.com/JakeFAU/regcrawl/cmd"
)

func main() {
	cmd.Execute()
}
