package main

import "github.com/diastream/diastream-cli/internal/cli"

func main() {
	cli.Execute()
}
