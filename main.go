// The main package for the firmcrawl executable.
package main

import (
	"github.com/firmlens/firmcrawl/cmd"
)

func main() {
	cmd.Execute()
}
