package main

import "github.com/garyjia/recruit-workflow/internal/cli"

func main() {
	cli.Execute()
}
