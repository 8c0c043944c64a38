package main

import "codeberg.org/mutker/bcld/cmd/bclctl/cmd"

func main() {
	cmd.Execute()
}
