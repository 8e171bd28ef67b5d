package main

import "github.com/AminBhst/brisk-engine/cmd"

func main() {
	cmd.Execute()
}
