// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024-2026 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package osutil

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/devhostd/devhostd/strutil"
)

// Allow disabling sync for testing. This brings massive improvements on
// certain filesystems (like btrfs) and very much noticeable improvements
// in all unit tests in general.
var unsafeIO bool = len(os.Args) > 0 && strings.HasSuffix(os.Args[0], ".test") && GetenvBool("DEVHOSTD_UNSAFE_IO")

// An AtomicWriter is an io.WriteCloser that has a Finalize() method that
// does whatever needs to be done so the edition is "atomic": an
// AtomicWriter will do its best to leave either the previous content or
// the new content in permanent storage. It also has a Cancel() method to
// abort and clean up.
type AtomicWriter interface {
	io.WriteCloser

	// Finalize the writing operation and make it permanent.
	//
	// If Finalize succeeds, the file is closed and further attempts to
	// write will fail. If Finalize fails, Cancel() needs to be called
	// to clean up.
	Finalize() error

	// Cancel closes the AtomicWriter, and cleans up any artifacts.
	// Cancel can fail if Finalize() was (even partially) successful.
	Cancel() error
}

type atomicFile struct {
	*os.File

	target  string
	tmpname string
	renamed bool
}

// NewAtomicFile builds an AtomicWriter backed by an *os.File that will
// have the given filename and permissions when Finalized.
//
// It is the caller's responsibility to clean up on error, by calling
// Cancel().
func NewAtomicFile(filename string, perm os.FileMode) (AtomicWriter, error) {
	tmp := filename + "." + strutil.MakeRandomString(12)

	fd, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, perm)
	if err != nil {
		return nil, err
	}

	return &atomicFile{
		File:    fd,
		target:  filename,
		tmpname: tmp,
	}, nil
}

// ErrCannotCancel means the Finalize operation failed at the last step,
// and your luck has run out.
var ErrCannotCancel = errors.New("cannot cancel: file has already been renamed")

func (aw *atomicFile) Cancel() error {
	if aw.renamed {
		return ErrCannotCancel
	}
	if err := aw.Close(); err != nil {
		return err
	}
	if aw.tmpname != "" {
		return os.Remove(aw.tmpname)
	}

	return nil
}

func (aw *atomicFile) Finalize() error {
	if !unsafeIO {
		if err := aw.Sync(); err != nil {
			return err
		}
	}

	if err := os.Rename(aw.tmpname, aw.target); err != nil {
		return err
	}
	aw.renamed = true // it is now too late to Cancel()

	return aw.Close()
}

// AtomicWriteFile updates the filename atomically and works otherwise
// like io/ioutil.WriteFile()
//
// Note that it won't follow symlinks and will replace existing symlinks
// with the real file.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) (err error) {
	aw, err := NewAtomicFile(filename, perm)
	if err != nil {
		return err
	}

	// Cancel once Finalized is a nop
	defer aw.Cancel()

	if _, err := aw.Write(data); err != nil {
		return err
	}

	return aw.Finalize()
}

// AtomicWriteFileWithBackup writes the file atomically like
// AtomicWriteFile, but first preserves any previous content of filename
// as filename+".bak". The backup is what ReadFileWithBackup falls back
// to when the primary is missing or rejected by its validator.
func AtomicWriteFileWithBackup(filename string, data []byte, perm os.FileMode) error {
	if prev, err := os.ReadFile(filename); err == nil {
		if err := AtomicWriteFile(filename+".bak", prev, perm); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	return AtomicWriteFile(filename, data, perm)
}

// ReadFileWithBackup reads filename, falling back to filename+".bak" if
// the primary is missing or validate rejects its content. If both are
// unusable the primary's error is returned. A nil validate accepts any
// content.
func ReadFileWithBackup(filename string, validate func([]byte) error) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err == nil && validate != nil {
		err = validate(data)
	}
	if err == nil {
		return data, nil
	}

	backup, berr := os.ReadFile(filename + ".bak")
	if berr == nil && validate != nil {
		berr = validate(backup)
	}
	if berr == nil {
		return backup, nil
	}

	return nil, err
}
