package main

import "github.com/jmehdipour/nyx-sync/cmd"

func main() {
	cmd.Execute()
}
