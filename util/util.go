/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Dec 29 09:03:12 2017 mstenber
 * Last modified: Mon Apr  2 10:12:40 2018 mstenber
 * Edit time:     9 min
 *
 */

package util

import "encoding/binary"

func ConcatBytes(bytes ...[]byte) []byte {
	nl := 0
	for _, b := range bytes {
		nl += len(b)
	}
	r := make([]byte, 0, nl)
	for _, b := range bytes {
		r = append(r, b...)
	}
	return r
}

// Int16At / PutInt16At and friends encode the big-endian integers of
// the on-disk structures.
func Int16At(b []byte, ofs int) int16 {
	return int16(binary.BigEndian.Uint16(b[ofs:]))
}

func PutInt16At(b []byte, ofs int, v int16) {
	binary.BigEndian.PutUint16(b[ofs:], uint16(v))
}

func Int32At(b []byte, ofs int) int32 {
	return int32(binary.BigEndian.Uint32(b[ofs:]))
}

func PutInt32At(b []byte, ofs int, v int32) {
	binary.BigEndian.PutUint32(b[ofs:], uint32(v))
}

func IMin(i int, ints ...int) int {
	for _, v := range ints {
		if v < i {
			i = v
		}
	}
	return i
}

func IMax(i int, ints ...int) int {
	for _, v := range ints {
		if v > i {
			i = v
		}
	}
	return i
}

func IAbs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
