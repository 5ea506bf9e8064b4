package main

import "github.com/nextlevelbuilder/imsgclaw/cmd"

func main() {
	cmd.Execute()
}
