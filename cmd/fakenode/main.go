// Command fakenode is a reference cluster node speaking the faultline node
// command-line contract.
//
// Usage:
//
//	fakenode --id A --port 8001 --role detector --peer_addr 127.0.0.1:8002 \
//	    --hb_interval_ms 100 --hb_timeout_ms 300 --log_path runs/A.jsonl --run_id r1
//
// Roles monitored and detector exchange TCP heartbeats; leader and follower
// serve a replicated key-value store over HTTP.
package main

import (
	"os"

	"faultline/internal/fakenode"
)

func main() {
	os.Exit(fakenode.Main(os.Args[1:]))
}
