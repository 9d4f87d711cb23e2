package main

import "github.com/nextlevelbuilder/flowgram/cmd"

func main() {
	cmd.Execute()
}
