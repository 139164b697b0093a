package peer

import (
	"io"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/resource"
)

// Client posts the three peer RPCs to a remote daemon's peer listener,
// realizing spec §1's "post<RPC>(endp, in) → future<out>" as a synchronous
// call returning (result, error) — callers that want a future wrap this in
// a goroutine, matching the "RPC posting is asynchronous with futures"
// scheduling note of spec §5.
type Client struct {
	hc      *fasthttp.Client
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{hc: &fasthttp.Client{}, timeout: timeout}
}

func endpoint(addr resource.NetAddr, path string) string {
	return "http://" + addr.String() + path
}

// ResourceStat posts resource_stat to addr.
func (c *Client) ResourceStat(addr resource.NetAddr, req StatRequest) (StatResponse, error) {
	var resp StatResponse
	body, err := json.Marshal(req)
	if err != nil {
		return resp, cos.NewError(cos.Snafu, err.Error())
	}
	r := fasthttp.AcquireRequest()
	w := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(r)
	defer fasthttp.ReleaseResponse(w)

	r.SetRequestURI(endpoint(addr, pathResourceStat))
	r.Header.SetMethod(fasthttp.MethodPost)
	r.SetBody(body)

	if err := c.hc.DoTimeout(r, w, c.timeout); err != nil {
		return resp, cos.NewError(cos.ConnFailed, err.Error())
	}
	if err := json.Unmarshal(w.Body(), &resp); err != nil {
		return resp, cos.NewError(cos.RpcRecvFailed, err.Error())
	}
	return resp, nil
}

// PushResource streams body to addr's push_resource endpoint and returns its
// completion envelope.
func (c *Client) PushResource(addr resource.NetAddr, meta TransferMeta, body io.Reader) (TransferResult, error) {
	var result TransferResult
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return result, cos.NewError(cos.Snafu, err.Error())
	}

	r := fasthttp.AcquireRequest()
	w := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(r)
	defer fasthttp.ReleaseResponse(w)

	r.SetRequestURI(endpoint(addr, pathPush))
	r.Header.SetMethod(fasthttp.MethodPost)
	r.Header.Set(metaHeader, string(metaJSON))
	r.SetBodyStream(body, -1)

	if err := c.hc.DoTimeout(r, w, c.timeout); err != nil {
		return result, cos.NewError(cos.RpcSendFailed, err.Error())
	}
	if err := json.Unmarshal(w.Body(), &result); err != nil {
		return result, cos.NewError(cos.RpcRecvFailed, err.Error())
	}
	return result, nil
}

// PullResource requests addr's pull_resource endpoint and copies the
// response body into dst.
func (c *Client) PullResource(addr resource.NetAddr, meta TransferMeta, dst io.Writer) (TransferResult, error) {
	var result TransferResult
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return result, cos.NewError(cos.Snafu, err.Error())
	}

	r := fasthttp.AcquireRequest()
	w := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(r)
	defer fasthttp.ReleaseResponse(w)

	r.SetRequestURI(endpoint(addr, pathPull))
	r.Header.SetMethod(fasthttp.MethodPost)
	r.SetBody(metaJSON)

	if err := c.hc.DoTimeout(r, w, c.timeout); err != nil {
		return result, cos.NewError(cos.RpcSendFailed, err.Error())
	}
	if err := json.Unmarshal(w.Header.Peek(resultHeader), &result); err != nil {
		return result, cos.NewError(cos.RpcRecvFailed, err.Error())
	}
	if result.Status == uint8(cos.Success) {
		if _, err := dst.Write(w.Body()); err != nil {
			return result, cos.NewError(cos.RpcRecvFailed, err.Error())
		}
	}
	return result, nil
}
