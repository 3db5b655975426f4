package main

import "treebranchleaf/tbl/cmd"

func main() {
	cmd.Execute()
}
