package main

import "github.com/stleox/tracepost/pkg/cmd"

func main() {
	cmd.Execute()
}
