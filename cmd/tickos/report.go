// Copyright 2026 The tickos Authors
// This file is part of the tickos library.
//
// The tickos library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The tickos library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the tickos library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/sunyihoo/tickos/kernel"
	"github.com/sunyihoo/tickos/kernel/timer"
)

// sortTimeline orders wake events by wake tick. Threads woken by the same
// interrupt keep the order they resumed in.
func sortTimeline(events []timer.SleepEvent) {
	slices.SortStableFunc(events, func(a, b timer.SleepEvent) int {
		switch {
		case a.Woke < b.Woke:
			return -1
		case a.Woke > b.Woke:
			return 1
		}
		return 0
	})
}

func writeTimeline(out io.Writer, events []timer.SleepEvent) {
	sortTimeline(events)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Thread", "ID", "Start", "Deadline", "Woke", "Late"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, ev := range events {
		table.Append([]string{
			ev.Name,
			strconv.Itoa(int(ev.Thread)),
			ev.Start.String(),
			ev.Deadline.String(),
			ev.Woke.String(),
			strconv.FormatInt(ev.Woke.Sub(ev.Deadline), 10),
		})
	}
	table.SetFooter([]string{"", "", "", "", "Sleeps", strconv.Itoa(len(events))})
	table.Render()
}

func writeStats(out io.Writer, k *kernel.Kernel) {
	var (
		ts = k.Timer().Stats()
		ss = k.Scheduler().Stats()
	)
	stats := [][]string{
		{"Timer", "Frequency", fmt.Sprintf("%d Hz", k.Timer().Frequency())},
		{"Timer", "Ticks", ts.Ticks.String()},
		{"Timer", "Sleeps", strconv.FormatUint(ts.Sleeps, 10)},
		{"Timer", "Wakeups", strconv.FormatUint(ts.Wakeups, 10)},
		{"Timer", "Unlinked", strconv.FormatUint(ts.Unlinked, 10)},
		{"Scheduler", "Idle ticks", strconv.FormatUint(ss.IdleTicks, 10)},
		{"Scheduler", "Kernel ticks", strconv.FormatUint(ss.KernelTicks, 10)},
		{"Scheduler", "Switches", strconv.FormatUint(ss.Switches, 10)},
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Device", "Counter", "Value"})
	table.AppendBulk(stats)
	table.Render()
}
