/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Apr  6 09:11:47 2018 mstenber
 * Last modified: Fri Apr  6 10:03:31 2018 mstenber
 * Edit time:     17 min
 *
 */

package fs

import (
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/storage"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrOutOfSpace      = errors.New("out of space")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIOFailure       = errors.New("i/o failure")

	// ErrBusy is returned by Format while files are open.
	ErrBusy = errors.New("busy")

	// ErrNotFormatted is returned when block 0 does not describe a
	// file system for the device.
	ErrNotFormatted = errors.New("not formatted")
)

// Is returns true if the cause of err is target.
func Is(err, target error) bool {
	return err != nil && errors.Cause(err) == target
}

// blockError classifies an error from the storage backend. Invalid
// block ids are caller errors; everything else is I/O failure.
func blockError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Cause(err) == storage.ErrInvalidBlock {
		return errors.Wrapf(ErrInvalidArgument, format+": %v", append(args, err)...)
	}
	return errors.Wrapf(ErrIOFailure, format+": %v", append(args, err)...)
}
