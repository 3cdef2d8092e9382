package main

import "github.com/emrgen/omnistore/cmd"

func main() {
	cmd.Execute()
}
