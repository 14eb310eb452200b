// The main package for the adaptive-crawler executable.
package main

import (
	"github.com/JakeFAU/adaptive-crawler/cmd"
)

func main() {
	cmd.Execute()
}
