/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Mar 20 13:35:11 2018 mstenber
 * Last modified: Mon Apr  2 10:14:02 2018 mstenber
 * Edit time:     4 min
 *
 */

package util

import (
	"testing"

	"github.com/stvp/assert"
)

func TestConcatBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ConcatBytes([]byte("foo"), []byte("bar")), []byte("foobar"))
}

func TestIntCoding(t *testing.T) {
	t.Parallel()
	b := make([]byte, 8)
	PutInt16At(b, 0, -1)
	assert.Equal(t, b[:2], []byte{0xff, 0xff})
	assert.Equal(t, Int16At(b, 0), int16(-1))
	PutInt32At(b, 2, 0x01020304)
	assert.Equal(t, b[2:6], []byte{1, 2, 3, 4})
	assert.Equal(t, Int32At(b, 2), int32(0x01020304))
}

func TestIMinMax(t *testing.T) {
	t.Parallel()
	assert.Equal(t, IMin(3, 5, 1, 7), 1)
	assert.Equal(t, IMax(3, 5, 1, 7), 7)
	assert.Equal(t, IAbs(-4), 4)
}
