// Command haloprof is the profiler CLI: attach runs the profiler core
// against a guest program and emits a locality graph, group clusters a
// previously emitted graph into a context -> group table, and serve browses
// completed runs.
package main

import "github.com/affinityprof/haloprof/cmd/haloprof/cmd"

func main() {
	cmd.Execute()
}
