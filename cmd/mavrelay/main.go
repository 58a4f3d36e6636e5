package main

import "github.com/julienstroheker/mavrelay/proxy/cmd"

func main() {
	cmd.Execute()
}
