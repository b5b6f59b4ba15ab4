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

package log

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sunyihoo/tickos/common/mclock"
)

// uptimeKey is the attribute carrying the kernel tick in JSON and logfmt
// output.
const uptimeKey = "tick"

type uptimeClock struct{ c mclock.Clock }

var uptime atomic.Pointer[uptimeClock]

// SetUptime attaches the kernel tick clock to all handlers of this package.
// Once set, every record is stamped with the number of ticks since boot, like
// the kernel ring buffer does. Passing nil detaches the clock.
// 设置后每条日志都会带上自启动以来的 tick 数。
func SetUptime(c mclock.Clock) {
	if c == nil {
		uptime.Store(nil)
		return
	}
	uptime.Store(&uptimeClock{c})
}

// Uptime returns the current tick of the attached clock.
func Uptime() (mclock.Tick, bool) {
	if u := uptime.Load(); u != nil {
		return u.c.Now(), true
	}
	return 0, false
}

// writeUptime appends "|TICK" to a terminal header.
func writeUptime(b *bytes.Buffer) {
	t, ok := Uptime()
	if !ok || t < 0 {
		return
	}
	b.WriteByte('|')
	writePosIntWidth(b, int(t), 6)
}

// uptimeHandler adds the tick attribute to records of the slog builtin
// handlers.
type uptimeHandler struct {
	slog.Handler
}

func (h uptimeHandler) Handle(ctx context.Context, r slog.Record) error {
	if t, ok := Uptime(); ok {
		r = r.Clone()
		r.AddAttrs(slog.Int64(uptimeKey, int64(t)))
	}
	return h.Handler.Handle(ctx, r)
}

func (h uptimeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return uptimeHandler{h.Handler.WithAttrs(attrs)}
}

func (h uptimeHandler) WithGroup(name string) slog.Handler {
	return uptimeHandler{h.Handler.WithGroup(name)}
}
