// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package entropy

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// readOS fills p from getrandom(2), blocking only until the kernel pool is
// initialized. Kernels without the syscall fall back to crypto/rand.
func readOS(p []byte) error {
	for len(p) > 0 {
		n, err := unix.Getrandom(p, 0)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ENOSYS):
			_, err = io.ReadFull(rand.Reader, p)
			return err
		case err != nil:
			return err
		}
		p = p[n:]
	}
	return nil
}
