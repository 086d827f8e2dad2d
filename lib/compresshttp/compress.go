//
// Copyright (c) SAS Institute Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package compresshttp compresses request bodies sent to a signing service
// and decodes compressed responses.
package compresshttp

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/golang/snappy"
)

const (
	acceptEncoding   = "Accept-Encoding"
	contentEncoding  = "Content-Encoding"
	EncodingIdentity = "identity"
	EncodingGzip     = "gzip"
	EncodingSnappy   = "x-snappy-framed"

	AcceptedEncodings = EncodingSnappy + ", " + EncodingGzip
)

var ErrUnacceptableEncoding = errors.New("unknown Content-Encoding")

// Check validates a configured encoding name
func Check(encoding string) error {
	switch encoding {
	case "", EncodingIdentity, EncodingGzip, EncodingSnappy:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnacceptableEncoding, encoding)
}

func newWriter(encoding string, w io.Writer) (io.WriteCloser, error) {
	switch encoding {
	case EncodingGzip:
		return gzip.NewWriterLevel(w, gzip.BestSpeed)
	case EncodingSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, ErrUnacceptableEncoding
	}
}

func newReader(encoding string, r io.Reader) (io.Reader, error) {
	switch strings.TrimSpace(encoding) {
	case EncodingIdentity, "":
		return r, nil
	case EncodingGzip:
		return gzip.NewReader(r)
	case EncodingSnappy:
		return snappy.NewReader(r), nil
	default:
		return nil, ErrUnacceptableEncoding
	}
}

// CompressRequest replaces the request body with one compressed using
// encoding, and asks for a compressed response. An empty or identity
// encoding leaves the request alone.
func CompressRequest(request *http.Request, encoding string) error {
	if encoding == "" || encoding == EncodingIdentity || request.Body == nil {
		return nil
	}
	if err := Check(encoding); err != nil {
		return err
	}
	plain := &readBlocker{Reader: request.Body}
	pr, pw := io.Pipe()
	go func() {
		wc, err := newWriter(encoding, pw)
		if err == nil {
			_, err = io.Copy(wc, plain)
			if cerr := wc.Close(); err == nil {
				err = cerr
			}
		}
		_ = plain.Close()
		_ = pw.CloseWithError(err)
	}()
	// Reads from the original body must stop once the request is done,
	// otherwise a retry reading the same file could race with this one.
	request.Body = alsoClose{ReadCloser: pr, also: plain}
	request.ContentLength = -1
	request.Header.Set(contentEncoding, encoding)
	request.Header.Set(acceptEncoding, AcceptedEncodings)
	return nil
}

// DecompressResponse decodes the response body according to its
// Content-Encoding
func DecompressResponse(response *http.Response) error {
	r, err := newReader(response.Header.Get(contentEncoding), response.Body)
	if err != nil {
		return err
	}
	response.Body = readAndClose{r: r, c: response.Body}
	response.Header.Del(contentEncoding)
	response.ContentLength = -1
	return nil
}

// readBlocker fails all reads once closed
type readBlocker struct {
	io.Reader
	closed atomic.Bool
}

func (r *readBlocker) Read(d []byte) (int, error) {
	if r.closed.Load() {
		return 0, errors.New("stream is closed")
	}
	return r.Reader.Read(d)
}

func (r *readBlocker) Close() error {
	r.closed.Store(true)
	if c, ok := r.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type alsoClose struct {
	io.ReadCloser
	also io.Closer
}

func (a alsoClose) Close() error {
	a.also.Close()
	return a.ReadCloser.Close()
}

type readAndClose struct {
	r io.Reader
	c io.Closer
}

func (rc readAndClose) Read(d []byte) (int, error) {
	return rc.r.Read(d)
}

func (rc readAndClose) Close() error {
	return rc.c.Close()
}
