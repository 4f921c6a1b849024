package main

import "github.com/gematik/zero-gate/cmd/zero-gate/cmd"

func main() {
	cmd.Execute()
}
