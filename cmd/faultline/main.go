// Command faultline runs fault-injection experiments against a cluster node
// binary and aggregates the measured detection latencies.
package main

import "os"

func main() {
	os.Exit(Execute(os.Args[1:]))
}
