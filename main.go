package main

import "github.com/xbtify/xbtclaw/cmd"

func main() {
	cmd.Execute()
}
