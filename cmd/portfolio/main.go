// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command portfolio selects, simulates, and replays algorithm-portfolio runs.
//
// Usage:
//
//	portfolio select --model sat.yaml --budget 300 --history kissat-60s:unknown
//	portfolio run --model sat.yaml --truth truth.yaml --sessions 100 --journal ./journal
//	portfolio replay --journal ./journal <session-id>
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
