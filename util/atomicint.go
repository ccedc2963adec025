/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Mar 21 11:19:49 2018 mstenber
 * Last modified: Mon Apr  2 10:38:02 2018 mstenber
 * Edit time:     6 min
 *
 */

package util

import "sync/atomic"

// AtomicInt is int64 counter which is safe to share between
// goroutines (statistics mostly).
type AtomicInt int64

func (self *AtomicInt) Get() int64 {
	i := (*int64)(self)
	return atomic.LoadInt64(i)
}

func (self *AtomicInt) GetInt() int {
	return int(self.Get())
}

func (self *AtomicInt) Add(value int64) int64 {
	i := (*int64)(self)
	return atomic.AddInt64(i, value)
}

func (self *AtomicInt) AddInt(value int) int {
	return int(self.Add(int64(value)))
}

func (self *AtomicInt) Set(value int64) {
	i := (*int64)(self)
	atomic.StoreInt64(i, value)
}

func (self *AtomicInt) SetInt(value int) {
	self.Set(int64(value))
}
