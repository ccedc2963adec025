/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Jan  8 10:19:05 2018 mstenber
 * Last modified: Mon Apr  2 10:40:31 2018 mstenber
 * Edit time:     3 min
 *
 */

package util

import "sync"

// SimpleWaitGroup is sync.WaitGroup that also starts the goroutines.
type SimpleWaitGroup struct {
	sync.WaitGroup
}

func (self *SimpleWaitGroup) Go(cb func()) {
	self.Add(1)
	go func() {
		defer self.Done()
		cb()
	}()
}
