/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr 10 15:33:02 2018 mstenber
 * Last modified: Tue Apr 10 15:40:12 2018 mstenber
 * Edit time:     7 min
 *
 */

package pb

import (
	"testing"

	"github.com/stvp/assert"
	"google.golang.org/grpc/encoding"
)

func TestCodec(t *testing.T) {
	t.Parallel()
	c := encoding.GetCodec(CodecName)
	assert.True(t, c != nil)
	in := &WriteRequest{Handle: 42, Data: []byte("hello")}
	b, err := c.Marshal(in)
	assert.Nil(t, err)
	var out WriteRequest
	assert.Nil(t, c.Unmarshal(b, &out))
	assert.Equal(t, out, *in)

	_, err = c.Marshal(&Empty{})
	assert.Nil(t, err)
	assert.True(t, c.Unmarshal(b[:len(b)-2], &out) != nil)
}
