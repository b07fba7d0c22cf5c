package main

import "github.com/xaman1990/SisCoreApi/cmd"

func main() {
	cmd.Execute()
}
