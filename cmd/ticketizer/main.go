package main

import "github.com/jmcleod/ticketizer/cmd/ticketizer/cmd"

func main() {
	cmd.Execute()
}
