package main

import "github.com/romforge/go-romkitchen/cmd"

func main() {
	cmd.Execute()
}
