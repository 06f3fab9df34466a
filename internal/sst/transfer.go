package sst

import "context"

// Downloader transfers a remote file into TargetDir/Filename. It returns the HTTP status
// of the transfer; a non-nil error means the transfer did not produce a status at all.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) (int, error)
}

// Decompressor replaces path with its decompressed sibling (compression suffix removed).
type Decompressor interface {
	Decompress(path string) error
}

// ProgressObserver is notified synchronously while a transfer is running with the
// cumulative byte count and the size of the chunk just written.
type ProgressObserver interface {
	Progress(total, step int64)
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(total, step int64)

func (f ProgressFunc) Progress(total, step int64) { f(total, step) }

// ProgressSink renders transfer progress. One sink may be reused across transfers.
type ProgressSink interface {
	Begin(name string, size int64)
	Advance(n int64)
	Finish()
}

// TransferOptions are handed to the Downloader unchanged.
type TransferOptions struct {
	ProxyHost    string
	ProxyPort    int
	Headers      map[string]string
	ShowProgress bool
	Sink         ProgressSink
	Observer     ProgressObserver
}

// DownloadRequest is a single transfer.
type DownloadRequest struct {
	URL       string
	TargetDir string
	Filename  string
	TransferOptions
}
