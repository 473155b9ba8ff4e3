package main

import "oiwatch/internal/cli"

func main() {
	cli.Execute()
}
