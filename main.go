package main

import "flowrunner/cmd"

func main() {
	cmd.Execute()
}
