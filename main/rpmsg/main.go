// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// This is the rpmsg diagnostic command as a standalone program.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/platinasystems/rpmsg/cmd/rpmsg"
)

func main() {
	var c rpmsg.Command
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help" ||
		args[0] == "help") {
		fmt.Println("usage:", c.Usage())
		fmt.Println(c.Man())
		return
	}
	if err := c.Main(args...); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(os.Args[0]), err)
		os.Exit(1)
	}
}
