package main

import (
	"os"

	"overseer/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
