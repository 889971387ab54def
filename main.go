package main

import "github.com/jmehdipour/reader-gateway/cmd"

func main() {
	cmd.Execute()
}
