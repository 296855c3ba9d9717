package main

import "github.com/RobinvBerg/costpilot/cmd"

func main() {
	cmd.Execute()
}
