package main

import "github.com/memsearchd/memsearchd/cmd"

func main() {
	cmd.Execute()
}
