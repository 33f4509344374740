// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package main

import "os"

func main() {
	os.Exit(Run())
}
