package owserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Message types
const (
	msgError  int32 = 0
	msgNop    int32 = 1
	msgRead   int32 = 2
	msgDir    int32 = 4
	msgDirAll int32 = 7
)

// Control flags
const (
	flagPersistence int32 = 0x00000004
	flagOwnet       int32 = 0x00000100
)

const (
	headerSize = 24

	// maxPayload bounds a reply payload; owserver never sends more than
	// this for a directory listing or a property value
	maxPayload = 65536

	// readSize is the data size requested on READ
	readSize = 8192
)

// ErrServer is wrapped by errors the server reports in the reply header
var ErrServer = errors.New("owserver error")

// request is the fixed header sent ahead of every message
type request struct {
	Version int32
	Payload int32
	Type    int32
	Flags   int32
	Size    int32
	Offset  int32
}

// reply is the fixed header received ahead of every answer. Ret carries the
// result code; a negative value is a server error.
type reply struct {
	Version int32
	Payload int32
	Ret     int32
	Flags   int32
	Size    int32
	Offset  int32
}

// writeRequest sends a message with a NUL-terminated path as payload.
func writeRequest(w io.Writer, typ, flags int32, path string, size int32) error {
	payload := append([]byte(path), 0)
	hdr := request{
		Payload: int32(len(payload)),
		Type:    typ,
		Flags:   flags,
		Size:    size,
	}

	buf := make([]byte, headerSize+len(payload))
	putHeader(buf, [6]int32{hdr.Version, hdr.Payload, hdr.Type, hdr.Flags, hdr.Size, hdr.Offset})
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// readReply reads one answer, skipping keep-alive frames the server sends
// while a slow bus operation is in progress.
func readReply(r io.Reader) (reply, []byte, error) {
	var raw [headerSize]byte
	for {
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return reply{}, nil, fmt.Errorf("failed to read reply header: %w", err)
		}
		f := getHeader(raw[:])
		rep := reply{Version: f[0], Payload: f[1], Ret: f[2], Flags: f[3], Size: f[4], Offset: f[5]}

		if rep.Payload == -1 {
			continue
		}
		if rep.Ret < 0 {
			return rep, nil, fmt.Errorf("%w: code %d", ErrServer, -rep.Ret)
		}
		if rep.Payload < 0 || rep.Payload > maxPayload {
			return rep, nil, fmt.Errorf("invalid reply payload length %d", rep.Payload)
		}

		data := make([]byte, rep.Payload)
		if _, err := io.ReadFull(r, data); err != nil {
			return rep, nil, fmt.Errorf("failed to read reply payload: %w", err)
		}
		if rep.Size >= 0 && int(rep.Size) < len(data) {
			data = data[:rep.Size]
		}
		return rep, data, nil
	}
}

func putHeader(buf []byte, fields [6]int32) {
	for i, v := range fields {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(v))
	}
}

func getHeader(buf []byte) [6]int32 {
	var f [6]int32
	for i := range f {
		f[i] = int32(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return f
}
