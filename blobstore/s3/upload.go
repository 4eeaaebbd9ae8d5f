package s3

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// UploadConfig tunes how partition files are uploaded. Blob files of a
// large partition run to gigabytes and go out as multipart uploads.
type UploadConfig struct {
	PartSize          int64 // bytes per part, at least 5 MiB
	Concurrency       int   // parts in flight per file
	EnableChecksum    bool  // ask S3 to verify a CRC32C of every part
	LeavePartsOnError bool  // keep parts of a failed multipart upload
}

// DefaultUploadConfig uses 16 MiB parts, four at a time, with checksums.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       16 << 20,
		Concurrency:    4,
		EnableChecksum: true,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

// errAborted is what the uploader sees when a writer is aborted.
var errAborted = errors.New("s3: upload aborted")

// uploadWriter pipes writes into a background upload. Bodies below the part
// size go out as one PutObject, larger ones as a multipart upload.
type uploadWriter struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error

	mu     sync.Mutex
	closed bool
	err    error
}

func newUploadWriter(ctx context.Context, uploader *manager.Uploader, bucket, key string, checksum bool) *uploadWriter {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, cancel: cancel, done: make(chan error, 1)}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if checksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	go func() {
		_, err := uploader.Upload(ctx, input)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return w.pw.Write(p)
}

// Close ends the body and waits for the upload. Later calls return the
// same result.
func (w *uploadWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.err
	}
	w.closed = true
	_ = w.pw.Close()
	w.err = mapError(<-w.done)
	w.cancel()
	return w.err
}

// Abort cancels the upload. The uploader aborts a multipart upload it
// already started, so no object appears.
func (w *uploadWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.err = errAborted
	w.cancel()
	_ = w.pw.CloseWithError(errAborted)
	<-w.done
	return nil
}
