package main

import "github.com/examtools/imgdl/cmd"

func main() {
	cmd.Execute()
}
