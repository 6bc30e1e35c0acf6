//go:build linux
// +build linux

/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package fsmon

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// inotifyKinds enumerates the reported event kinds in canonical order.
var inotifyKinds = []struct {
	bit  uint32
	name string
}{
	{unix.IN_ACCESS, "IN_ACCESS"},
	{unix.IN_ATTRIB, "IN_ATTRIB"},
	{unix.IN_OPEN, "IN_OPEN"},
	{unix.IN_CLOSE_WRITE, "IN_CLOSE_WRITE"},
	{unix.IN_CLOSE_NOWRITE, "IN_CLOSE_NOWRITE"},
	{unix.IN_CREATE, "IN_CREATE"},
	{unix.IN_DELETE, "IN_DELETE"},
	{unix.IN_DELETE_SELF, "IN_DELETE_SELF"},
	{unix.IN_MODIFY, "IN_MODIFY"},
	{unix.IN_MOVE_SELF, "IN_MOVE_SELF"},
	{unix.IN_MOVED_FROM, "IN_MOVED_FROM"},
	{unix.IN_MOVED_TO, "IN_MOVED_TO"},
}

// Reporter turns decoded events into one human-readable report each,
// written and flushed before the next event is decoded.
type Reporter struct {
	Out io.Writer
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{Out: out}
}

// Report writes the line(s) for one event. Events whose handle is not in
// the watch table are dropped silently: such a record refers to a watch this
// process never registered, which should not occur but is not an error.
func (r *Reporter) Report(watches []*Watch, ev *Event) {
	switch {
	case ev.Overflow:
		fmt.Fprintf(r.Out, "Queue overflow!\n")
	case ev.Path != "":
		fmt.Fprintf(r.Out, "%s opened by process %d.\n", ev.Path, ev.Pid)
	case ev.Mask != 0:
		r.reportKinds(watches, ev)
	default:
		if w := lookupWatch(watches, ev.Handle); w != nil {
			fmt.Fprintf(r.Out, "Received event in directory '%s'\n", w.Path)
		}
	}
}

func (r *Reporter) reportKinds(watches []*Watch, ev *Event) {
	w := lookupWatch(watches, ev.Handle)
	if w == nil {
		return
	}

	if ev.Name != "" {
		fmt.Fprintf(r.Out, "Received event in '%s/%s':\n", w.Path, ev.Name)
	} else {
		fmt.Fprintf(r.Out, "Received event in '%s':\n", w.Path)
	}

	for _, kind := range inotifyKinds {
		if ev.Mask&kind.bit == 0 {
			continue
		}

		switch kind.bit {
		case unix.IN_MOVED_FROM, unix.IN_MOVED_TO:
			fmt.Fprintf(r.Out, "\t%s (cookie: %d)\n", kind.name, ev.Cookie)
		default:
			fmt.Fprintf(r.Out, "\t%s\n", kind.name)
		}
	}
}
