// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_PlainStatus(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Success("context created")
	p.Warning("source degraded")
	p.Error("insufficient entropy")

	assert.Equal(t, "OK: context created\nWARN: source degraded\nERROR: insufficient entropy\n", buf.String())
}

func TestPrinter_StyledStatus(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeStyled)

	p.Success("done")
	assert.Contains(t, buf.String(), string(IconSuccess))
	assert.Contains(t, buf.String(), "done")
}

func TestPrinter_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModePlain).KeyValues([]Field{
		{"Minimum", "1"},
		{"Std Deviation", "1.71"},
	})
	assert.Equal(t, "Minimum\t1\nStd Deviation\t1.71\n", buf.String())

	buf.Reset()
	NewPrinter(&buf, ModeStyled).KeyValues([]Field{{"Mean", "3.50"}})
	assert.Contains(t, buf.String(), "Mean:")
	assert.Contains(t, buf.String(), "3.50")
}

func TestPrinter_Bars(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModeStyled).Bars([]string{"1", "2"}, []int{10, 5}, 10)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, 10, strings.Count(lines[0], "█"))
	assert.Equal(t, 5, strings.Count(lines[1], "█"))

	buf.Reset()
	NewPrinter(&buf, ModePlain).Bars([]string{"a"}, []int{0}, 10)
	assert.Equal(t, "a\t0\n", buf.String())
}

func TestPrinter_TitleAndBox(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	p.Title("Statistical Analysis")
	p.Box("Version", "1.1.0")
	assert.Equal(t, "# Statistical Analysis\nVersion: 1.1.0\n", buf.String())
}

func TestDetectMode(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	t.Setenv(OutputEnv, "")
	assert.Equal(t, ModePlain, DetectMode(f))
	assert.Equal(t, ModePlain, DetectMode(nil))

	t.Setenv(OutputEnv, "styled")
	assert.Equal(t, ModeStyled, DetectMode(f))

	t.Setenv(OutputEnv, "PLAIN")
	assert.Equal(t, ModePlain, DetectMode(f))
}
