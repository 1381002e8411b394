// Command homegraph runs a graph of GPIO buttons, switches, regulators and
// outputs described by a config file, with an HTTP and MQTT control surface.
package main

import "log"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
