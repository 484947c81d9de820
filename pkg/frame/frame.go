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

// Package frame defines the STOMP-style wire frame model and the
// NUL-terminated byte codec used on every connection. A frame is one command
// line, zero or more "name:value" header lines, a blank line, and a body.
// On the wire a frame is terminated by a single NUL byte; the NUL is never
// part of the logical frame.
package frame

import (
	"fmt"
	"strings"
)

// Client commands understood by the protocol engine.
const (
	CmdConnect     = "CONNECT"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdDisconnect  = "DISCONNECT"
)

// Server frame commands.
const (
	CmdConnected = "CONNECTED"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
	CmdError     = "ERROR"
)

// Frame is a single decoded protocol message. Header keys are unique; when a
// client repeats a header the last occurrence wins. Frames are built per
// message and consumed immediately, never persisted.
type Frame struct {
	Command string
	Headers map[string]string
	Body    string
}

// Parse decodes a frame from its wire text (without the trailing NUL).
// The command is the first line; headers follow until the first blank line;
// everything after the blank line is the body, verbatim. Header lines that do
// not contain a ':' are skipped.
func Parse(text string) Frame {
	f := Frame{Headers: make(map[string]string)}

	head := text
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		head = text[:idx]
		f.Body = text[idx+2:]
	}

	lines := strings.Split(head, "\n")
	if len(lines) == 0 {
		return f
	}
	f.Command = strings.TrimSpace(lines[0])

	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		f.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return f
}

// Header returns the value of the named header and whether it was present.
func (f Frame) Header(name string) (string, bool) {
	v, ok := f.Headers[name]
	return v, ok
}

// Connected renders the reply to a successful CONNECT.
func Connected() string {
	return "CONNECTED\nversion:1.2\n\n"
}

// Receipt renders the acknowledgement for a command that carried a receipt
// header.
func Receipt(receiptID string) string {
	return "RECEIPT\nreceipt-id:" + receiptID + "\n\n"
}

// Message renders a broadcast delivery for one recipient. subID is the
// recipient's own subscription id; messageID is shared by every recipient of
// the same SEND.
func Message(subID string, messageID uint64, topic, body string) string {
	return fmt.Sprintf("MESSAGE\nsubscription:%s\nmessage-id:%d\ndestination:%s\n\n%s",
		subID, messageID, topic, body)
}

// Error renders a terminal error frame. The offending frame text is embedded
// verbatim between "----" markers so the client can see exactly what was
// rejected. receiptID echoes the request's receipt header and may be empty.
func Error(short, receiptID, original, detail string) string {
	var b strings.Builder
	b.WriteString("ERROR\nmessage:")
	b.WriteString(short)
	b.WriteString("\n")
	if receiptID != "" {
		b.WriteString("receipt-id:")
		b.WriteString(receiptID)
		b.WriteString("\n")
	}
	b.WriteString("\nThe message:\n----\n")
	b.WriteString(original)
	b.WriteString("\n----\n")
	b.WriteString(detail)
	b.WriteString("\n")
	return b.String()
}
