package main

import "github.com/user/gosec-agg/cmd"

func main() {
	cmd.Execute()
}
