package main

import "github.com/Alijeyrad/keystone_backend/cmd"

func main() {
	cmd.Execute()
}
