package main

import "github.com/hurou927/xmlshred/cmd"

func main() {
	cmd.Execute()
}
