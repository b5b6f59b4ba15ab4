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

// Package exp exposes kernel counters through expvar, under /debug/metrics.
package exp

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/sunyihoo/tickos/log"
)

// Source reports a set of named counters.
type Source func() map[string]int64

// exp holds the sources published under /debug/metrics.
type exp struct {
	expvarLock sync.Mutex // expvar panics if you try to register the same var twice, so we must probe it safely

	lock    sync.RWMutex
	sources map[string]Source
}

var (
	defaultExp = &exp{sources: make(map[string]Source)}
	mountOnce  sync.Once
)

// Register installs src under the given prefix, replacing any earlier source
// with the same prefix. Counters are published as "prefix/name".
func Register(prefix string, src Source) {
	defaultExp.lock.Lock()
	defer defaultExp.lock.Unlock()
	defaultExp.sources[prefix] = src
}

// Unregister removes the source with the given prefix. Values already
// published keep their last reading.
func Unregister(prefix string) {
	defaultExp.lock.Lock()
	defer defaultExp.lock.Unlock()
	delete(defaultExp.sources, prefix)
}

// Exp mounts the metrics handler on the default HTTP mux. It is safe to call
// more than once.
func Exp() {
	mountOnce.Do(func() {
		http.Handle("/debug/metrics", ExpHandler())
	})
}

// ExpHandler returns the handler serving every registered source in expvar
// format.
func ExpHandler() http.Handler {
	return http.HandlerFunc(defaultExp.expHandler)
}

// Setup starts a dedicated metrics server.
func Setup(address string) {
	m := http.NewServeMux()
	m.Handle("/debug/metrics", ExpHandler())
	log.Info("Starting metrics server", "addr", fmt.Sprintf("http://%s/debug/metrics", address))
	go func() {
		if err := http.ListenAndServe(address, m); err != nil {
			log.Error("Failure in running metrics server", "err", err)
		}
	}()
}

func (exp *exp) expHandler(w http.ResponseWriter, r *http.Request) {
	// load our variables into expvar
	exp.syncToExpvar()

	// now just run the official expvar handler code (which is not publicly callable, so pasted inline)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

func (exp *exp) getInt(name string) *expvar.Int {
	var v *expvar.Int
	exp.expvarLock.Lock()
	defer exp.expvarLock.Unlock()

	p := expvar.Get(name)
	if p != nil {
		v = p.(*expvar.Int)
	} else {
		v = new(expvar.Int)
		expvar.Publish(name, v)
	}
	return v
}

func (exp *exp) syncToExpvar() {
	exp.lock.RLock()
	prefixes := make([]string, 0, len(exp.sources))
	for prefix := range exp.sources {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	sources := make([]Source, len(prefixes))
	for i, prefix := range prefixes {
		sources[i] = exp.sources[prefix]
	}
	exp.lock.RUnlock()

	for i, src := range sources {
		for name, val := range src() {
			exp.getInt(prefixes[i] + "/" + name).Set(val)
		}
	}
}
