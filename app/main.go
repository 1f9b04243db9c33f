package main

import "github.com/lloydmeta/datahub/app/cmd"

func main() {
	cmd.Execute()
}
