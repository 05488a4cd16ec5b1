package main

import "github.com/MrEthical07/storeauth/cmd/storeauth/cmd"

func main() {
	cmd.Execute()
}
