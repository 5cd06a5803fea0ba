package main

import "github.com/mailherd/mailherd/internal/cli"

func main() {
	cli.Execute()
}
