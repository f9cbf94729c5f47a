// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package multipath

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	// ErrCompression is the error returned when a message can not be
	// compressed.
	ErrCompression = errors.New("multipath: compression failed")

	// ErrDecompression is the error returned for a corrupted compressed
	// message.
	ErrDecompression = errors.New("multipath: decompression failed")
)

var writerPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

var readerPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

// compress returns the LZ4 frame of b, and false if compression does not
// make b smaller, in which case b is returned as is.
func compress(b []byte) ([]byte, bool, error) {
	var buf bytes.Buffer
	w := writerPool.Get().(*lz4.Writer)
	defer writerPool.Put(w)

	w.Reset(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4.Level4)); err != nil {
		return nil, false, ErrCompression
	}
	if _, err := w.Write(b); err != nil {
		return nil, false, ErrCompression
	}
	if err := w.Close(); err != nil {
		return nil, false, ErrCompression
	}
	if buf.Len() >= len(b) {
		return b, false, nil
	}
	return buf.Bytes(), true, nil
}

// decompress inflates an LZ4 frame, refusing to produce more than
// maxLength bytes.
func decompress(b []byte, maxLength int) ([]byte, error) {
	r := readerPool.Get().(*lz4.Reader)
	defer readerPool.Put(r)

	r.Reset(bytes.NewReader(b))
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, int64(maxLength)+1))
	if err != nil || n > int64(maxLength) {
		return nil, ErrDecompression
	}
	return buf.Bytes(), nil
}
