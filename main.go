package main

import "rundash/internal/cmd"

func main() {
	cmd.Execute()
}
