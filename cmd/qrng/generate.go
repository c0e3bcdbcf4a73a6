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
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/qrng/pkg/analysis"
	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/ux"
)

// Output formats of generate.
const (
	formatDec = "dec"
	formatHex = "hex"
	formatBin = "bin"
)

// uniformityBins caps the chi-squared histogram used by --analyze.
const uniformityBins = 64

var errBounds = errors.New("min value cannot be greater than max value")

// bounds is the inclusive range of generate. A negative minimum selects the
// signed 32-bit path.
type bounds struct {
	signed     bool
	smin, smax int32
	umin, umax uint64
}

// parseBounds accepts decimal, 0x hex and 0 octal literals.
func parseBounds(minStr, maxStr string) (bounds, error) {
	if v, err := strconv.ParseInt(minStr, 0, 64); err == nil && v < 0 {
		smin, err := strconv.ParseInt(minStr, 0, 32)
		if err != nil {
			return bounds{}, fmt.Errorf("invalid minimum value %q: signed ranges must fit in 32 bits", minStr)
		}
		smax, err := strconv.ParseInt(maxStr, 0, 32)
		if err != nil {
			return bounds{}, fmt.Errorf("invalid maximum value %q: signed ranges must fit in 32 bits", maxStr)
		}
		if smin > smax {
			return bounds{}, errBounds
		}
		return bounds{signed: true, smin: int32(smin), smax: int32(smax)}, nil
	}

	umin, err := strconv.ParseUint(minStr, 0, 64)
	if err != nil {
		return bounds{}, fmt.Errorf("invalid minimum value %q", minStr)
	}
	umax, err := strconv.ParseUint(maxStr, 0, 64)
	if err != nil {
		return bounds{}, fmt.Errorf("invalid maximum value %q", maxStr)
	}
	if umin > umax {
		return bounds{}, errBounds
	}
	return bounds{umin: umin, umax: umax}, nil
}

// span is max - min.
func (b bounds) span() uint64 {
	if b.signed {
		return uint64(int64(b.smax) - int64(b.smin))
	}
	return b.umax - b.umin
}

// draw returns one value as its offset from min.
func (b bounds) draw(c *qrng.Context) (uint64, error) {
	if b.signed {
		v, err := c.Range32(b.smin, b.smax)
		return uint64(int64(v) - int64(b.smin)), err
	}
	v, err := c.Range64(b.umin, b.umax)
	return v - b.umin, err
}

// value converts an offset back to the drawn number as a float.
func (b bounds) value(offset uint64) float64 {
	if b.signed {
		return float64(int64(b.smin) + int64(offset))
	}
	return float64(b.umin + offset)
}

// format renders the value at offset.
//
// Hex prints the value as 16 hex digits, negative values in two's
// complement. Binary prints the offset from min in groups of four bits.
func (b bounds) format(offset uint64, format string) string {
	var raw uint64
	var dec string
	if b.signed {
		v := int64(b.smin) + int64(offset)
		raw = uint64(v)
		dec = strconv.FormatInt(v, 10)
	} else {
		raw = b.umin + offset
		dec = strconv.FormatUint(raw, 10)
	}

	switch format {
	case formatHex:
		return fmt.Sprintf("0x%016x", raw)
	case formatBin:
		width := analysis.RequiredBits(b.span())
		var sb strings.Builder
		for i := width - 1; i >= 0; i-- {
			sb.WriteByte('0' + byte(offset>>uint(i)&1))
			if i > 0 && (width-i)%4 == 0 {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, " (%d bits)", width)
		return sb.String()
	default:
		return dec
	}
}

func (b bounds) String() string {
	if b.signed {
		return fmt.Sprintf("%d to %d", b.smin, b.smax)
	}
	return fmt.Sprintf("%d to %d", b.umin, b.umax)
}

type generateOptions struct {
	count         int
	min, max      string
	format        string
	analyze       bool
	output        string
	seed          string
	deterministic bool
}

func newGenerateCmd(a *app) *cobra.Command {
	o := generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate random numbers in a range",
		Example: `  qrng generate -c 5
  qrng generate -m 1 -M 100
  qrng generate -m -10 -M 10 -f bin
  qrng generate -f hex -a`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runGenerate(cmd, o)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.count, "count", "c", 10, "number of values to generate")
	f.StringVarP(&o.min, "min", "m", "0", "minimum value; negative selects the signed 32-bit range")
	f.StringVarP(&o.max, "max", "M", strconv.FormatUint(math.MaxUint64, 10), "maximum value")
	f.StringVarP(&o.format, "format", "f", formatDec, "output format: dec, hex, bin")
	f.BoolVarP(&o.analyze, "analyze", "a", false, "print a statistical analysis")
	f.StringVarP(&o.output, "output", "o", "", "write values to this file instead of stdout")
	f.StringVar(&o.seed, "seed", "", "additional seed material")
	f.BoolVar(&o.deterministic, "deterministic", false, "reproducible output from --seed (testing only)")
	return cmd
}

func (a *app) runGenerate(cmd *cobra.Command, o generateOptions) error {
	if o.count < 1 {
		return fmt.Errorf("invalid count %d: must be at least 1", o.count)
	}
	switch o.format {
	case formatDec, formatHex, formatBin:
	default:
		return fmt.Errorf("unknown format %q", o.format)
	}
	b, err := parseBounds(o.min, o.max)
	if err != nil {
		return err
	}

	c, err := a.openContext(cmd.Context(), o.seed, o.deterministic)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if o.output != "" {
		f, err := os.Create(o.output)
		if err != nil {
			return fmt.Errorf("could not open output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	offsets, err := generate(c, b, o.count, o.format, out)
	if err != nil {
		return err
	}
	if o.analyze {
		return report(printer(cmd), b, offsets)
	}
	return nil
}

// generate writes count values to w and returns their offsets from min.
func generate(c *qrng.Context, b bounds, count int, format string, w io.Writer) ([]uint64, error) {
	bw := bufio.NewWriter(w)
	offsets := make([]uint64, 0, count)
	for range count {
		off, err := b.draw(c)
		if err != nil {
			return nil, err
		}
		if off > b.span() {
			return nil, fmt.Errorf("range function returned %d outside %s", off, b)
		}
		offsets = append(offsets, off)
		fmt.Fprintln(bw, b.format(off, format))
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	return offsets, nil
}

// report prints summary statistics, the per-bit frequency row and a
// chi-squared uniformity test.
func report(p *ux.Printer, b bounds, offsets []uint64) error {
	values := make([]float64, len(offsets))
	for i, off := range offsets {
		values[i] = b.value(off)
	}
	sum, err := analysis.Summarize(values)
	if err != nil {
		return err
	}
	uni, err := analysis.TestUniform(offsets, b.span(), uniformityBins)
	if err != nil {
		return err
	}

	p.Title("Statistical Analysis")
	p.KeyValues([]ux.Field{
		{Key: "Count", Value: strconv.Itoa(sum.Count)},
		{Key: "Minimum", Value: strconv.FormatFloat(sum.Min, 'f', -1, 64)},
		{Key: "Maximum", Value: strconv.FormatFloat(sum.Max, 'f', -1, 64)},
		{Key: "Mean", Value: fmt.Sprintf("%.2f", sum.Mean)},
		{Key: "Std Deviation", Value: fmt.Sprintf("%.2f", sum.StdDev)},
	})

	width := analysis.RequiredBits(b.span())
	p.Title(fmt.Sprintf("Bit Distribution (%d bits needed for range %s)", width, b))
	for _, line := range bitRows(analysis.BitFrequencies(offsets, width)) {
		p.Line(line)
	}

	p.Title("Uniformity")
	p.KeyValues([]ux.Field{
		{Key: "Bins", Value: strconv.Itoa(uni.Bins)},
		{Key: "Chi-squared", Value: fmt.Sprintf("%.3f", uni.Statistic)},
		{Key: "p-value", Value: fmt.Sprintf("%.4f", uni.PValue)},
	})
	return nil
}

// bitRows renders bit positions most significant first, with each
// frequency scaled to a single digit 0-9.
func bitRows(freq []float64) []string {
	var pos, sep, row []string
	for i := len(freq) - 1; i >= 0; i-- {
		pos = append(pos, strconv.Itoa(i%10))
		sep = append(sep, "-")
		row = append(row, strconv.Itoa(int(freq[i]*9)))
	}
	return []string{
		"Bit:  " + strings.Join(pos, " "),
		"      " + strings.Join(sep, " "),
		"Freq: " + strings.Join(row, " "),
	}
}
