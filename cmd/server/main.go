package main

import "hndld/cmd/cli"

func main() {
	cli.Execute()
}
