// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package securemem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := New(size, ModeAuto)
		assert.ErrorIs(t, err, ErrInvalidSize)
	}
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := New(16, Mode("bogus"))
	assert.Error(t, err)
}

func TestNew_Unlocked(t *testing.T) {
	buf, err := New(64, ModeUnlocked)
	require.NoError(t, err)
	defer buf.Destroy()

	assert.False(t, buf.Locked())
	assert.Equal(t, 64, buf.Size())
	assert.Equal(t, make([]byte, 64), buf.Bytes(), "new buffer should be zeroed")
}

func TestNew_EnvForcesUnlocked(t *testing.T) {
	t.Setenv(InsecureMemoryEnv, "true")

	buf, err := New(32, ModeAuto)
	require.NoError(t, err)
	defer buf.Destroy()

	assert.False(t, buf.Locked())
}

func TestNew_AutoMode(t *testing.T) {
	buf, err := New(128, ModeAuto)
	require.NoError(t, err)
	defer buf.Destroy()

	// Either backing is acceptable; both must behave the same way.
	copy(buf.Bytes(), []byte("key material"))
	assert.Equal(t, byte('k'), buf.Bytes()[0])
	assert.True(t, buf.IsAlive())
}

func TestDestroy_Idempotent(t *testing.T) {
	for _, mode := range []Mode{ModeAuto, ModeUnlocked} {
		t.Run(string(mode), func(t *testing.T) {
			buf, err := New(32, mode)
			require.NoError(t, err)

			buf.Destroy()
			buf.Destroy()
			assert.False(t, buf.IsAlive())
		})
	}
}

func TestHeapBuffer_DestroyWipes(t *testing.T) {
	buf := newHeapBuffer(16)
	data := buf.Bytes()
	for i := range data {
		data[i] = 0xAA
	}

	buf.Destroy()

	assert.Equal(t, make([]byte, 16), data, "backing array should be zeroed")
	assert.Nil(t, buf.Bytes())
}

func TestLive_Accounting(t *testing.T) {
	before := Live()

	bufs := make([]Buffer, 0, 4)
	for i := 0; i < 4; i++ {
		buf, err := New(48, ModeAuto)
		require.NoError(t, err)
		bufs = append(bufs, buf)
	}
	assert.Equal(t, before+4, Live())

	for _, buf := range bufs {
		buf.Destroy()
	}
	assert.Equal(t, before, Live())
}

func TestRoundToPage(t *testing.T) {
	assert.Equal(t, pageSize, roundToPage(1))
	assert.Equal(t, pageSize, roundToPage(pageSize))
	assert.Equal(t, 2*pageSize, roundToPage(pageSize+1))
}
