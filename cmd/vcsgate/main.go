package main

import "github.com/treeverse/vcsgate/cmd/vcsgate/cmd"

func main() {
	cmd.Execute()
}
