package main

import (
	"flag"

	"gophervm/kernel/kmain"
)

var configPath = flag.String("config", "config.json", "path to the kernel config file")

// main parses the command line and hands control to the kernel entrypoint.
func main() {
	flag.Parse()
	kmain.Kmain(*configPath)
}
