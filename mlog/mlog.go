/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 30 13:41:33 2017 mstenber
 * Last modified: Mon Apr  2 11:31:09 2018 mstenber
 * Edit time:     118 min
 *
 */

// mlog is maybe-log, or Markus' log. It is small wrapper of standard
// 'log' which only prints what has been asked for:
//
// - MLOG environment variable (or -mlog flag) is a regular
// expression; only Printf2 topics (or caller filenames for Printf)
// that match it are printed. By default everything is off, and what
// is off costs one atomic load.
//
// - call stack depth is used to indent the output, and goroutine id
// is prepended, so that interleaved operations can be followed.
package mlog

import (
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fingon/go-flatfs/util/gid"
)

const (
	stateUninitialized int32 = iota
	stateDisabled
	stateEnabled
)

const maxDepth = 100

var logger = log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)

// status is accessed atomically; everything else only with mutex held
var status = stateUninitialized

var mutex sync.Mutex
var flagPattern *string
var pattern string
var patternRegexp *regexp.Regexp
var topic2Debug map[string]bool
var minDepth int
var callers []uintptr
var dumpGids = true

func init() {
	flagPattern = flag.String("mlog", "", "Enable logging based on the given topic/file regular expression")
	Reset()
}

// Reset returns the module to its default state; the first
// subsequent log call re-reads the environment.
func Reset() {
	mutex.Lock()
	defer mutex.Unlock()
	atomic.StoreInt32(&status, stateUninitialized)
	minDepth = maxDepth
	callers = make([]uintptr, maxDepth)
}

// IsEnabled can be used to check if mlog is in use at all before
// doing something expensive.
func IsEnabled() bool {
	return atomic.LoadInt32(&status) != stateDisabled
}

// SetLogger overrides the output logger. The returned undo function
// restores the previous one.
func SetLogger(l *log.Logger) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	oldLogger := logger
	logger = l
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = oldLogger
	}
}

// SetPattern sets the pattern by hand, overriding the environment
// variable and flag. The returned undo function restores the previous
// pattern.
func SetPattern(p string) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	oldPattern := pattern
	setPattern(p)
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		setPattern(oldPattern)
	}
}

// SetGoroutineIds toggles the goroutine id prefix.
func SetGoroutineIds(value bool) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	old := dumpGids
	dumpGids = value
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		dumpGids = old
	}
}

func setPattern(p string) {
	pattern = p
	minDepth = maxDepth
	if p == "" {
		atomic.StoreInt32(&status, stateDisabled)
		return
	}
	patternRegexp = regexp.MustCompile(p)
	topic2Debug = make(map[string]bool)
	atomic.StoreInt32(&status, stateEnabled)
}

func initialize() {
	p := os.Getenv("MLOG")
	if flagPattern != nil && *flagPattern != "" {
		p = *flagPattern
	}
	setPattern(p)
}

// Printf is drop-in replacement of log.Printf; the topic is the
// caller's filename, which costs a runtime.Caller() whenever mlog is
// enabled at all.
func Printf(format string, args ...interface{}) {
	if atomic.LoadInt32(&status) == stateDisabled {
		return
	}
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		return
	}
	Printf2(file, format, args...)
}

// Printf2 is the premier choice instead of Printf. The topic is given
// explicitly, so there is no runtime penalty to speak of.
func Printf2(topic string, format string, args ...interface{}) {
	if atomic.LoadInt32(&status) == stateDisabled {
		return
	}
	mutex.Lock()
	defer mutex.Unlock()
	if atomic.LoadInt32(&status) == stateUninitialized {
		initialize()
		if atomic.LoadInt32(&status) != stateEnabled {
			return
		}
	}
	debug, ok := topic2Debug[topic]
	if !ok {
		debug = patternRegexp.MatchString(topic)
		topic2Debug[topic] = debug
	}
	if !debug {
		return
	}
	depth := runtime.Callers(1, callers)
	if depth < minDepth {
		minDepth = depth
	}
	depth -= minDepth
	if depth > 0 {
		format = strings.Repeat(".", depth) + format
	}
	if dumpGids {
		format = fmt.Sprintf("%8d %s", gid.GetGoroutineID(), format)
	}
	logger.Printf(format, args...)
}
