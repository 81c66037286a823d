package main

import "github.com/jonbmost/acquisition-assistant/cmd"

func main() {
	cmd.Execute()
}
