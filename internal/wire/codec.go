package wire

import "github.com/tinylib/msgp/msgp"

// MarshalMsg / UnmarshalMsg are hand-written (no `go generate`) but use the
// same msgp runtime helpers generated code would: Append*/Read*Bytes pairs
// that make every field self-delimiting, so decode(encode(r)) == r holds
// regardless of field order surprises (spec §8 "Framing round-trip").

func (ri *ResourceInfo) MarshalMsg(b []byte) []byte {
	b = msgp.AppendUint8(b, ri.Kind)
	b = msgp.AppendString(b, ri.Nsid)
	b = msgp.AppendString(b, ri.Name)
	b = msgp.AppendUint64(b, ri.Address)
	b = msgp.AppendUint64(b, ri.Size)
	b = msgp.AppendString(b, ri.PeerHost)
	b = msgp.AppendInt32(b, ri.PeerPort)
	b = msgp.AppendString(b, ri.BufID)
	b = msgp.AppendInt64(b, ri.BufSize)
	b = msgp.AppendBool(b, ri.IsCollection)
	return b
}

func (ri *ResourceInfo) UnmarshalMsg(b []byte) ([]byte, error) {
	var err error
	if ri.Kind, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	if ri.Nsid, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if ri.Name, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if ri.Address, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	if ri.Size, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	if ri.PeerHost, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if ri.PeerPort, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if ri.BufID, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if ri.BufSize, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	if ri.IsCollection, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	return b, nil
}

func appendLimits(b []byte, limits []Limit) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(limits)))
	for _, l := range limits {
		b = msgp.AppendString(b, l.Nsid)
		b = msgp.AppendUint32(b, l.Quota)
	}
	return b
}

func readLimits(b []byte) ([]Limit, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	out := make([]Limit, n)
	for i := range out {
		var l Limit
		if l.Nsid, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
		if l.Quota, b, err = msgp.ReadUint32Bytes(b); err != nil {
			return nil, b, err
		}
		out[i] = l
	}
	return out, b, nil
}

func appendHosts(b []byte, hosts []string) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(hosts)))
	for _, h := range hosts {
		b = msgp.AppendString(b, h)
	}
	return b
}

func readHosts(b []byte) ([]string, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	out := make([]string, n)
	for i := range out {
		var err error
		if out[i], b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
	}
	return out, b, nil
}

// MarshalMsg encodes a Request. Every request kind's fields are always
// present on the wire (a flattened union, not a tagged one) — simpler to
// hand-write correctly than a variable-shape encoding, and well within the
// size budget of a control-plane message.
func (r *Request) MarshalMsg(b []byte) []byte {
	b = msgp.AppendUint8(b, uint8(r.Kind))
	b = msgp.AppendUint32(b, r.Cred.UID)
	b = msgp.AppendUint32(b, r.Cred.GID)
	b = msgp.AppendUint32(b, r.Cred.PID)
	b = msgp.AppendUint8(b, r.TaskKind)
	b = r.Src.MarshalMsg(b)
	b = r.Dst.MarshalMsg(b)
	b = msgp.AppendBool(b, r.HasDst)
	b = msgp.AppendUint64(b, r.TaskID)
	b = msgp.AppendUint8(b, uint8(r.Ctl))
	b = msgp.AppendUint32(b, r.JobID)
	b = appendHosts(b, r.Hosts)
	b = appendLimits(b, r.Limits)
	b = msgp.AppendString(b, r.Nsid)
	b = msgp.AppendUint8(b, r.BackendKind)
	b = msgp.AppendString(b, r.Mount)
	b = msgp.AppendUint64(b, r.Quota)
	return b
}

func (r *Request) UnmarshalMsg(b []byte) ([]byte, error) {
	var (
		k8  uint8
		err error
	)
	if k8, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	r.Kind = Kind(k8)
	if r.Cred.UID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.Cred.GID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.Cred.PID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.TaskKind, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	if b, err = r.Src.UnmarshalMsg(b); err != nil {
		return b, err
	}
	if b, err = r.Dst.UnmarshalMsg(b); err != nil {
		return b, err
	}
	if r.HasDst, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	if r.TaskID, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	if k8, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	r.Ctl = CtlCmd(k8)
	if r.JobID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.Hosts, b, err = readHosts(b); err != nil {
		return b, err
	}
	if r.Limits, b, err = readLimits(b); err != nil {
		return b, err
	}
	if r.Nsid, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if r.BackendKind, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	if r.Mount, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if r.Quota, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	return b, nil
}

func (r *Response) MarshalMsg(b []byte) []byte {
	b = msgp.AppendUint8(b, uint8(r.Kind))
	b = msgp.AppendUint8(b, r.ErrorCode)
	b = msgp.AppendUint64(b, r.TaskID)
	b = msgp.AppendUint8(b, r.Status)
	b = msgp.AppendString(b, r.TaskError)
	b = msgp.AppendInt32(b, r.SysErrnum)
	b = msgp.AppendUint32(b, r.Running)
	b = msgp.AppendUint32(b, r.Pending)
	b = msgp.AppendFloat64(b, r.ETA)
	return b
}

func (r *Response) UnmarshalMsg(b []byte) ([]byte, error) {
	var (
		k8  uint8
		err error
	)
	if k8, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	r.Kind = Kind(k8)
	if r.ErrorCode, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	if r.TaskID, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return b, err
	}
	if r.Status, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	if r.TaskError, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if r.SysErrnum, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	if r.Running, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.Pending, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.ETA, b, err = msgp.ReadFloat64Bytes(b); err != nil {
		return b, err
	}
	return b, nil
}

// Encode/Decode are the opaque encode/decode hooks spec §1 treats as an
// external collaborator's contract; here they are concretely implemented.
func Encode(r *Request) []byte  { return r.MarshalMsg(nil) }
func Decode(b []byte) (*Request, error) {
	r := &Request{}
	if _, err := r.UnmarshalMsg(b); err != nil {
		return nil, err
	}
	return r, nil
}

func EncodeResp(r *Response) []byte { return r.MarshalMsg(nil) }
func DecodeResp(b []byte) (*Response, error) {
	r := &Response{}
	if _, err := r.UnmarshalMsg(b); err != nil {
		return nil, err
	}
	return r, nil
}
