package transfer

import (
	"bytes"
	"io"

	"github.com/NGIOproject/norns-go/internal/rdma"
)

// readerOf adapts an exposed, mmap'd buffer to an io.Reader so its contents
// can be streamed as an RPC body without an extra copy into a fresh slice.
func readerOf(buf *rdma.Buffer) io.Reader {
	return bytes.NewReader(buf.Bytes())
}
