// Package models manages on-device model artifacts: downloading them with
// resumable progress reporting and loading them for local inference.
package models

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// TotalUnknown is reported when the server sends no content-length.
const TotalUnknown int64 = -1

const chunkSize = 64 * 1024

// Progress is one download event. Non-terminal events carry cumulative
// byte counts; the terminal event has Done set or Err non-nil. After a
// terminal event the channel is closed.
type Progress struct {
	Downloaded int64
	Total      int64
	Done       bool
	Err        error
}

// Downloader streams model artifacts to disk. The client carries no
// timeout; a hung transfer holds the single download slot until it
// resolves.
type Downloader struct {
	client *http.Client
}

func NewDownloader() *Downloader {
	return &Downloader{client: &http.Client{}}
}

// Download fetches url into target via a ".part" sibling, emitting a
// Progress after every chunk. On success the part file is renamed into
// place; on any failure the part file is removed and nothing is left at
// the final path.
func (d *Downloader) Download(url, target string) <-chan Progress {
	ch := make(chan Progress, 32)
	go func() {
		defer close(ch)
		ch <- d.run(url, target, ch)
	}()
	return ch
}

// run returns the terminal event; intermediate progress is sent
// non-blockingly so a slow consumer never stalls the transfer.
func (d *Downloader) run(url, target string, ch chan<- Progress) Progress {
	partPath := target + ".part"

	fail := func(err error) Progress {
		os.Remove(partPath)
		return Progress{Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return Progress{Err: fmt.Errorf("creating model directory: %w", err)}
	}

	resp, err := d.client.Get(url)
	if err != nil {
		return Progress{Err: fmt.Errorf("model download request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Progress{Err: fmt.Errorf("model download failed: HTTP %d", resp.StatusCode)}
	}

	total := resp.ContentLength
	if total <= 0 {
		total = TotalUnknown
	}

	f, err := os.Create(partPath)
	if err != nil {
		return Progress{Err: fmt.Errorf("creating part file: %w", err)}
	}

	var downloaded int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return fail(fmt.Errorf("writing part file: %w", err))
			}
			downloaded += int64(n)
			select {
			case ch <- Progress{Downloaded: downloaded, Total: total}:
			default:
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return fail(fmt.Errorf("reading model download: %w", readErr))
		}
	}

	if err := f.Close(); err != nil {
		return fail(fmt.Errorf("closing part file: %w", err))
	}
	if err := os.Rename(partPath, target); err != nil {
		return fail(fmt.Errorf("installing model artifact: %w", err))
	}
	return Progress{Downloaded: downloaded, Total: total, Done: true}
}
