package main

import (
	"log"

	"github.com/flowline/flowline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
