package main

import "podcast-fusion/cmd"

func main() {
	cmd.Execute()
}
