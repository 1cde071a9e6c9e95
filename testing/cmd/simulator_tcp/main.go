package main

import (
	"log"

	"github.com/baconwaifu/vwdiag/testing/simulator"
)

func main() {
	err := simulator.StartTCPServer("localhost:6789")
	if err != nil {
		log.Fatal(err)
	}
}
