// Copyright 2025 The stompd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAppendsNUL(t *testing.T) {
	out := Encode("CONNECTED\nversion:1.2\n\n")
	require.NotEmpty(t, out)
	assert.Equal(t, byte(0), out[len(out)-1])
	assert.Equal(t, "CONNECTED\nversion:1.2\n\n", string(out[:len(out)-1]))
}

func TestRoundTrip(t *testing.T) {
	texts := []string{
		"",
		"CONNECT\nlogin:alice\npasscode:pw\n\n",
		"SEND\ndestination:/topic/news\n\nbody with\nnewlines",
		strings.Repeat("x", 10_000),
		"MESSAGE\nsubscription:0\nmessage-id:1\ndestination:t\n\nבוקר טוב",
	}

	for _, text := range texts {
		var d Decoder
		var got []string
		for _, b := range Encode(text) {
			frame, ok := d.DecodeByte(b)
			if ok {
				got = append(got, frame)
			}
		}
		require.Len(t, got, 1)
		assert.Equal(t, text, got[0])
	}
}

func TestIncrementalDecodeEmitsOnlyOnNUL(t *testing.T) {
	var d Decoder
	for _, b := range []byte("SEND\ndestination:t\n\nhi") {
		_, ok := d.DecodeByte(b)
		assert.False(t, ok)
	}
	text, ok := d.DecodeByte(0)
	require.True(t, ok)
	assert.Equal(t, "SEND\ndestination:t\n\nhi", text)

	// Buffer is empty right after emission: the next byte starts a new frame.
	text, ok = d.DecodeByte(0)
	require.True(t, ok)
	assert.Empty(t, text)
}

func TestDecodeChunkWithMultipleFrames(t *testing.T) {
	var d Decoder
	chunk := append(Encode("DISCONNECT\n\n"), Encode("SEND\ndestination:t\n\nhi")...)
	chunk = append(chunk, []byte("SEND\npartial")...)

	frames := d.Decode(chunk)
	require.Len(t, frames, 2)
	assert.Equal(t, "DISCONNECT\n\n", frames[0])
	assert.Equal(t, "SEND\ndestination:t\n\nhi", frames[1])

	// The partial tail completes once its terminator arrives.
	frames = d.Decode([]byte{0})
	require.Len(t, frames, 1)
	assert.Equal(t, "SEND\npartial", frames[0])
}

func TestDecoderGrowsPastInitialCapacity(t *testing.T) {
	var d Decoder
	big := strings.Repeat("a", initialBufSize*4)
	frames := d.Decode(Encode(big))
	require.Len(t, frames, 1)
	assert.Equal(t, big, frames[0])
}
