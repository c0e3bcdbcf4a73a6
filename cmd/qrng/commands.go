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
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/qrng/pkg/analysis"
	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/ux"
	"github.com/AleutianAI/qrng/pkg/validation"
	"github.com/AleutianAI/qrng/services/rngd"
)

// maxCLIBytes bounds the bytes command.
const maxCLIBytes = 1 << 20

// seedFlags adds --seed and --deterministic to cmd.
func seedFlags(cmd *cobra.Command, seed *string, deterministic *bool) {
	cmd.Flags().StringVar(seed, "seed", "", "additional seed material")
	cmd.Flags().BoolVar(deterministic, "deterministic", false, "reproducible output from --seed (testing only)")
}

func newBytesCmd(a *app) *cobra.Command {
	var seed string
	var deterministic bool
	cmd := &cobra.Command{
		Use:   "bytes N",
		Short: "Print N random bytes as hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 || n > maxCLIBytes {
				return fmt.Errorf("invalid byte count %q: must be 1..%d", args[0], maxCLIBytes)
			}
			c, err := a.openContext(cmd.Context(), seed, deterministic)
			if err != nil {
				return err
			}
			defer c.Close()

			buf := make([]byte, n)
			if err := c.Fill(buf); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(buf))
			return nil
		},
	}
	seedFlags(cmd, &seed, &deterministic)
	return cmd
}

func newEntangleCmd(a *app) *cobra.Command {
	var seed string
	var deterministic bool
	cmd := &cobra.Command{
		Use:   "entangle HEX_A HEX_B",
		Short: "Entangle two equal-length hex buffers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := validation.DecodeStates([]string{"first state", "second state"}, args, maxCLIBytes)
			if err != nil {
				return err
			}
			x, y := states[0], states[1]
			c, err := a.openContext(cmd.Context(), seed, deterministic)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Entangle(x, y); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, hex.EncodeToString(x))
			fmt.Fprintln(out, hex.EncodeToString(y))
			return nil
		},
	}
	seedFlags(cmd, &seed, &deterministic)
	return cmd
}

func newMeasureCmd(a *app) *cobra.Command {
	var seed string
	var deterministic bool
	cmd := &cobra.Command{
		Use:   "measure HEX",
		Short: "Collapse a hex buffer into fresh random bytes of the same length",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := validation.DecodeState(args[0], maxCLIBytes)
			if err != nil {
				return fmt.Errorf("state: %w", err)
			}
			c, err := a.openContext(cmd.Context(), seed, deterministic)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Measure(state); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(state))
			return nil
		},
	}
	seedFlags(cmd, &seed, &deterministic)
	return cmd
}

func newDemoCmd(a *app) *cobra.Command {
	var seed string
	var deterministic bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through every engine operation once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.openContext(cmd.Context(), seed, deterministic)
			if err != nil {
				return err
			}
			defer c.Close()

			fields, err := demo(c)
			if err != nil {
				return err
			}
			p := printer(cmd)
			p.Title("qrng " + qrng.Version())
			p.KeyValues(fields)
			return nil
		},
	}
	seedFlags(cmd, &seed, &deterministic)
	return cmd
}

// demo runs each operation once and returns labelled results.
func demo(c *qrng.Context) ([]ux.Field, error) {
	var fields []ux.Field
	add := func(k, v string) { fields = append(fields, ux.Field{Key: k, Value: v}) }

	buf := make([]byte, 16)
	if err := c.Fill(buf); err != nil {
		return nil, err
	}
	add("Random bytes", hex.EncodeToString(buf))

	u, err := c.Uint64()
	if err != nil {
		return nil, err
	}
	add("Random uint64", strconv.FormatUint(u, 10))

	d, err := c.Float64()
	if err != nil {
		return nil, err
	}
	add("Random double [0,1)", strconv.FormatFloat(d, 'f', -1, 64))

	r32, err := c.Range32(10, 100)
	if err != nil {
		return nil, err
	}
	add("Random integer [10,100]", strconv.Itoa(int(r32)))

	r64, err := c.Range64(100000, 999999)
	if err != nil {
		return nil, err
	}
	add("Random uint64 [100000,999999]", strconv.FormatUint(r64, 10))

	est, err := c.EntropyEstimate()
	if err != nil {
		return nil, err
	}
	add("Entropy estimate", fmt.Sprintf("%.4f", est))

	s1, s2 := make([]byte, 16), make([]byte, 16)
	if err := c.Entangle(s1, s2); err != nil {
		return nil, err
	}
	add("Entangled state 1", hex.EncodeToString(s1))
	add("Entangled state 2", hex.EncodeToString(s2))

	m := make([]byte, 16)
	if err := c.Measure(m); err != nil {
		return nil, err
	}
	add("Measured state", hex.EncodeToString(m))

	add("Error message (-3)", qrng.ErrorString(qrng.Code(-3)))
	return fields, nil
}

func newDiceCmd(a *app) *cobra.Command {
	var seed string
	var deterministic bool
	var rolls int
	cmd := &cobra.Command{
		Use:   "dice",
		Short: "Roll a six-sided die and show the distribution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rolls < 1 {
				return fmt.Errorf("invalid roll count %d", rolls)
			}
			c, err := a.openContext(cmd.Context(), seed, deterministic)
			if err != nil {
				return err
			}
			defer c.Close()

			counts, offsets, err := rollDice(c, rolls)
			if err != nil {
				return err
			}
			uni, err := analysis.TestUniform(offsets, 5, 6)
			if err != nil {
				return err
			}

			p := printer(cmd)
			p.Title(fmt.Sprintf("%d rolls", rolls))
			p.Bars([]string{"1", "2", "3", "4", "5", "6"}, counts[:], 40)
			p.KeyValues([]ux.Field{
				{Key: "Expected per face", Value: fmt.Sprintf("%.1f", float64(rolls)/6)},
				{Key: "Chi-squared", Value: fmt.Sprintf("%.3f", uni.Statistic)},
				{Key: "p-value", Value: fmt.Sprintf("%.4f", uni.PValue)},
			})
			return nil
		},
	}
	cmd.Flags().IntVarP(&rolls, "rolls", "n", 6000, "number of rolls")
	seedFlags(cmd, &seed, &deterministic)
	return cmd
}

// rollDice draws n values of Range32(1, 6).
func rollDice(c *qrng.Context, n int) ([6]int, []uint64, error) {
	var counts [6]int
	offsets := make([]uint64, 0, n)
	for range n {
		v, err := c.Range32(1, 6)
		if err != nil {
			return counts, nil, err
		}
		counts[v-1]++
		offsets = append(offsets, uint64(v-1))
	}
	return counts, offsets, nil
}

func newErrorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "errors",
		Short:       "List engine error codes",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSetup: "skip"},
		Run: func(cmd *cobra.Command, _ []string) {
			p := printer(cmd)
			p.Title("Error codes")
			p.Line(fmt.Sprintf("%5s  %-24s %-9s %4s %4s", "CODE", "MESSAGE", "RETRYABLE", "EXIT", "HTTP"))
			for _, code := range qrng.Codes {
				exit, status := 0, 200
				if code != qrng.Success {
					err := &qrng.Error{Code: code}
					exit = exitCode(err)
					status, _ = rngd.StatusFor(err)
				}
				p.Line(fmt.Sprintf("%5d  %-24s %-9t %4d %4d",
					int(code), qrng.ErrorString(code), code.Retryable(), exit, status))
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the engine version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSetup: "skip"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "qrng", qrng.Version())
		},
	}
}
