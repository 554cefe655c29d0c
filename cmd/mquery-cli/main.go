// Command mquery-cli drives a running mquery-api: index directories, manage
// taints, submit rules and follow their jobs
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
