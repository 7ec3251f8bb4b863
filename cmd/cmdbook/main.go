package main

import "github.com/jmcleod/cmdbook/cmd/cmdbook/cmd"

func main() {
	cmd.Execute()
}
