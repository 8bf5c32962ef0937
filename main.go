// The main package for the adharvest executable.
package main

import (
	"github.com/brandsight/adharvest/cmd"
)

func main() {
	cmd.Execute()
}
