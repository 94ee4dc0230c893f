package main

import "go.pilab.hu/linksync/cmd/linksync/cmd"

func main() {
	cmd.Execute()
}
