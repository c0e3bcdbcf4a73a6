// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/qrng/pkg/ux"
)

type benchOptions struct {
	contexts int
	size     string
	chunk    string
}

// benchResult is the outcome of one bench run.
type benchResult struct {
	Contexts int
	Bytes    uint64
	Elapsed  time.Duration
}

// Throughput returns bytes per second.
func (r benchResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds()
}

func newBenchCmd(a *app) *cobra.Command {
	o := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure throughput of independent contexts in parallel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			size, err := humanize.ParseBytes(o.size)
			if err != nil {
				return fmt.Errorf("invalid --size: %w", err)
			}
			chunk, err := humanize.ParseBytes(o.chunk)
			if err != nil || chunk == 0 || chunk > 1<<24 {
				return fmt.Errorf("invalid --chunk %q", o.chunk)
			}
			if o.contexts < 1 {
				return fmt.Errorf("invalid --contexts %d", o.contexts)
			}

			res, err := a.bench(cmd.Context(), o.contexts, size, int(chunk))
			if err != nil {
				return err
			}

			p := printer(cmd)
			p.Title("Benchmark")
			p.KeyValues([]ux.Field{
				{Key: "Contexts", Value: humanize.Comma(int64(res.Contexts))},
				{Key: "Generated", Value: humanize.IBytes(res.Bytes)},
				{Key: "Elapsed", Value: res.Elapsed.Round(time.Millisecond).String()},
				{Key: "Throughput", Value: humanize.IBytes(uint64(res.Throughput())) + "/s"},
			})
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.contexts, "contexts", runtime.NumCPU(), "number of parallel contexts")
	f.StringVar(&o.size, "size", "8MiB", "bytes generated per context")
	f.StringVar(&o.chunk, "chunk", "64KiB", "bytes per Fill call")
	return cmd
}

// bench runs n contexts in parallel, each generating size bytes.
func (a *app) bench(ctx context.Context, n int, size uint64, chunk int) (benchResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for range n {
		g.Go(func() error {
			c, err := a.openContext(gctx, "", false)
			if err != nil {
				return err
			}
			defer c.Close()

			buf := make([]byte, chunk)
			for left := size; left > 0; {
				if err := gctx.Err(); err != nil {
					return err
				}
				k := min(left, uint64(len(buf)))
				if err := c.Fill(buf[:k]); err != nil {
					return err
				}
				left -= k
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}
	return benchResult{
		Contexts: n,
		Bytes:    size * uint64(n),
		Elapsed:  time.Since(start),
	}, nil
}
