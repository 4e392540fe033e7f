package main

import "gokernel/cmd"

func main() {
	cmd.Execute()
}
