package main

import "github.com/MeKo-Tech/checkscan/cmd/checkscan/cmd"

func main() {
	cmd.Execute()
}
