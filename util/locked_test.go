/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan  4 12:24:51 2018 mstenber
 * Last modified: Mon Apr  2 10:22:10 2018 mstenber
 * Edit time:     5 min
 *
 */

package util

import (
	"testing"

	"github.com/stvp/assert"
)

func TestMutexLocked(t *testing.T) {
	t.Parallel()
	var l MutexLocked
	var wg SimpleWaitGroup
	j := 0
	for i := 0; i < 10; i++ {
		wg.Go(func() {
			defer l.Locked()()
			j++
		})
	}
	wg.Wait()
	assert.Equal(t, j, 10)
}

func TestRWMutexLocked(t *testing.T) {
	t.Parallel()
	var l RWMutexLocked
	var wg SimpleWaitGroup
	j := 0
	for i := 0; i < 10; i++ {
		wg.Go(func() {
			defer l.Locked()()
			j++
		})
		wg.Go(func() {
			defer l.RLocked()()
			_ = j
		})
	}
	wg.Wait()
	assert.Equal(t, j, 10)
}
