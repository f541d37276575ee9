package fetcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// File reads a local file. Cancel closes the file so a blocked read returns.
type File struct {
	path     string
	maxBytes int64
	scope

	fileMu sync.Mutex
	f      *os.File
}

// NewFile returns a fetcher for path. maxBytes <= 0 disables the size limit.
func NewFile(path string, maxBytes int64) *File {
	return &File{path: path, maxBytes: maxBytes}
}

func (f *File) LoadData(ctx context.Context, _ core.Priority) (io.ReadCloser, error) {
	ctx, err := f.begin(ctx, "file.fetch")
	if err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "file.open", err)
	}
	if f.maxBytes > 0 {
		if st, err := file.Stat(); err == nil && st.Size() > f.maxBytes {
			file.Close()
			return nil, apperrors.New(apperrors.CategoryFetch, "file.fetch",
				fmt.Errorf("%w: %s is %d bytes", utils.ErrTooLarge, f.path, st.Size()))
		}
	}

	f.fileMu.Lock()
	f.f = file
	f.fileMu.Unlock()
	if f.isCancelled() {
		f.closeFile()
		return nil, apperrors.New(apperrors.CategoryFetch, "file.fetch", apperrors.ErrContextCanceled)
	}

	return utils.ReadCloser{
		Reader: &ctxReader{ctx: ctx, r: &utils.LimitedReader{R: file, Max: f.maxBytes}},
		Closer: closerFunc(f.closeFile),
	}, nil
}

func (f *File) Cancel() {
	f.scope.Cancel()
	f.closeFile()
}

func (f *File) Cleanup() {
	f.closeFile()
	f.release()
}

func (f *File) closeFile() error {
	f.fileMu.Lock()
	file := f.f
	f.f = nil
	f.fileMu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }
