package main

import "wealth-dashboard/internal/cli"

func main() {
	cli.Execute()
}
