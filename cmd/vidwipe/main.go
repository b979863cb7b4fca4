package main

import "github.com/ekroshkin/vidwipe/internal/cli"

func main() {
	cli.Main()
}
