package main

import "github.com/avihaie/bug-hunter/pkg/cli"

func main() {
	cli.Execute()
}
