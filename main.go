package main

import "miru/cmd"

func main() {
	cmd.Execute()
}
