// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command qrng generates random numbers and bytes from a qrng Context and
// serves them over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/qrng/pkg/qrng"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(ctx); cerr != nil {
		fmt.Fprintln(stderr, "Warning:", cerr)
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps engine codes to 2 (InvalidArgument) through 7
// (InternalFailure). Other failures exit with 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var qerr *qrng.Error
	if errors.As(err, &qerr) && qerr.Code < qrng.Success {
		return 1 - int(qerr.Code)
	}
	return 1
}
