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

// initialBufSize is the starting capacity of a decoder's frame buffer.
// The buffer grows by the usual amortized doubling beyond that.
const initialBufSize = 1 << 10

// Decoder accumulates bytes from a connection's input stream and emits one
// frame string per NUL byte seen. Each connection owns exactly one Decoder;
// it carries no state across connections. The zero value is ready to use.
type Decoder struct {
	buf []byte
}

// DecodeByte feeds one input byte to the decoder. When b is the NUL
// terminator it returns the accumulated frame text (decoded as UTF-8) and
// true, leaving the buffer empty; for every other byte it buffers b and
// returns false.
func (d *Decoder) DecodeByte(b byte) (string, bool) {
	if b == 0 {
		text := string(d.buf)
		d.buf = d.buf[:0]
		return text, true
	}
	if d.buf == nil {
		d.buf = make([]byte, 0, initialBufSize)
	}
	d.buf = append(d.buf, b)
	return "", false
}

// Decode feeds a chunk of bytes and returns the frames completed by it, in
// arrival order. A chunk may complete zero, one, or several frames; any
// trailing partial frame stays buffered for the next chunk.
func (d *Decoder) Decode(chunk []byte) []string {
	var frames []string
	for _, b := range chunk {
		if text, ok := d.DecodeByte(b); ok {
			frames = append(frames, text)
		}
	}
	return frames
}

// Encode renders a frame for the wire: the frame text followed by a single
// NUL byte. The terminator is appended only here, never by callers.
func Encode(text string) []byte {
	out := make([]byte, 0, len(text)+1)
	out = append(out, text...)
	return append(out, 0)
}
