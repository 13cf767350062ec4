// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package main implements an example greeter plugin for plugscan.
// It exports two greeters and an audit sink they optionally import.
//
// Build with:
//
//	go build -o greeter.plugin ./plugins/greeter
//
// and drop the binary into a search directory.
package main

import (
	"fmt"

	"github.com/plugscan/plugscan/pkg/pluginsdk"
)

// Greeter produces a greeting for a name.
type Greeter interface {
	Greet(name string) string
}

// Sink records greetings.
type Sink interface {
	Record(greeting string)
}

// base carries what every greeter shares.
type base struct {
	Audit Sink `plugin:"import,contract=audit,optional"`
}

func (b *base) record(s string) string {
	if b.Audit != nil {
		b.Audit.Record(s)
	}
	return s
}

// Formal greets politely.
type Formal struct {
	base
	Title string
}

// Greet implements Greeter.
func (f *Formal) Greet(name string) string {
	return f.record(fmt.Sprintf("Good day, %s %s.", f.Title, name))
}

// Casual greets in a hurry.
type Casual struct {
	base
}

// Greet implements Greeter.
func (c *Casual) Greet(name string) string {
	return c.record("hey " + name)
}

// MemorySink keeps greetings in memory.
type MemorySink struct {
	Greetings []string
}

// Record implements Sink.
func (m *MemorySink) Record(greeting string) {
	m.Greetings = append(m.Greetings, greeting)
}

func main() {
	greeter := (*Greeter)(nil)
	pluginsdk.Serve(&pluginsdk.ServeConfig{
		Parts: []pluginsdk.Part{
			{Value: Formal{}, Exports: []pluginsdk.Export{{Contract: "greeter.formal", Capability: greeter}}},
			{Value: Casual{}, Exports: []pluginsdk.Export{{Contract: "greeter.casual", Capability: greeter}}},
			{Value: MemorySink{}, Exports: []pluginsdk.Export{{Contract: "audit", Capability: (*Sink)(nil)}}},
		},
	})
}
