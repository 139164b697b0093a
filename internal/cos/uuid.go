package cos

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Alphabet for generated ids, mirrors the teacher's uuidABC shape (avoids
// characters that need escaping in either a shell argument or a tar path).
const idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sid  *shortid.Shortid
	tie  uint32
)

func init() {
	sid, _ = shortid.New(1, idABC, uint64(time.Now().UnixNano()))
}

// GenUUID mints a short, collision-resistant opaque identifier. It names the
// handles of buffers internal/rdma exposes, and is deliberately NOT the
// monotonic iotask_id (invariant 1 reserves that counter to the task manager
// alone).
func GenUUID() string {
	s, err := sid.Generate()
	if err != nil {
		// extremely unlikely (shortid only errors on a misconfigured alphabet);
		// fall back to a hash of a monotonically ticking counter so callers
		// never have to handle an error from id generation.
		n := atomic.AddUint32(&tie, 1)
		h := xxhash.Checksum64([]byte(fmt.Sprintf("%d-%d", time.Now().UnixNano(), n)))
		return fmt.Sprintf("%016x", h)
	}
	return s
}
