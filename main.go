package main

import "github.com/jennifer88huang/gtplanner/cmd"

func main() {
	cmd.Execute()
}
