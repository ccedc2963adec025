/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  2 10:46:00 2018 mstenber
 * Last modified: Mon Apr  2 10:52:41 2018 mstenber
 * Edit time:     6 min
 *
 */

package util

import (
	"testing"

	"github.com/stvp/assert"
)

func TestParallelLimiter(t *testing.T) {
	t.Parallel()
	pl := &ParallelLimiter{LimitTotal: 2}
	var cur, max AtomicInt
	var lock MutexLocked
	var wg SimpleWaitGroup
	for i := 0; i < 20; i++ {
		wg.Go(func() {
			defer pl.Limited()()
			n := cur.Add(1)
			func() {
				defer lock.Locked()()
				if n > max.Get() {
					max.Set(n)
				}
			}()
			cur.Add(-1)
		})
	}
	wg.Wait()
	assert.True(t, max.Get() <= 2)
	assert.Equal(t, pl.Running(), 0)
}
