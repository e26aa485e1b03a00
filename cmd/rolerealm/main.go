// cmd/rolerealm/main.go
package main

import (
	"fmt"
	"os"
)

// Version 构建时通过 -ldflags 覆盖
var Version = "dev"

func main() {
	if err := NewRootCmd(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
