package main

import "economy-store/cmd"

func main() {
	cmd.Execute()
}
