package main

import "github.com/omochice/roomchat/internal/cli"

func main() {
	cli.Execute()
}
