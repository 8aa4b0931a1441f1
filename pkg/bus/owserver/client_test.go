package owserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/owlog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers DIRALL, READ and NOP from fixed tables
type fakeServer struct {
	ln        net.Listener
	dirs      map[string]string
	values    map[string]string
	persist   bool
	keepalive bool
	conns     atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		ln:      ln,
		dirs:    map[string]string{},
		values:  map[string]string{},
		persist: true,
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns.Add(1)
			go s.serve(conn)
		}
	}()
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	for {
		var raw [headerSize]byte
		if _, err := io.ReadFull(conn, raw[:]); err != nil {
			return
		}
		f := getHeader(raw[:])
		payload := make([]byte, f[1])
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		p := strings.TrimRight(string(payload), "\x00")

		var body []byte
		var ret int32
		switch f[2] {
		case msgDirAll:
			d, ok := s.dirs[p]
			if !ok {
				ret = -2
				break
			}
			body = append([]byte(d), 0)
		case msgRead:
			v, ok := s.values[p]
			if !ok {
				ret = -2
				break
			}
			body = []byte(v)
			ret = int32(len(body))
		}

		flags := int32(0)
		if s.persist {
			flags = f[3] & flagPersistence
		}

		if s.keepalive {
			var ka [headerSize]byte
			putHeader(ka[:], [6]int32{0, -1, 0, flags, 0, 0})
			conn.Write(ka[:])
		}

		out := make([]byte, headerSize+len(body))
		putHeader(out, [6]int32{0, int32(len(body)), ret, flags, int32(len(body)), 0})
		copy(out[headerSize:], body)
		if _, err := conn.Write(out); err != nil {
			return
		}
		if !s.persist {
			return
		}
	}
}

func dialFake(t *testing.T, s *fakeServer) *Client {
	t.Helper()
	c, err := Dial(context.Background(), s.addr(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWriteRequest(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRequest(&buf, msgRead, flagPersistence, "/28.AABBCCDDEEFF/temperature", readSize))

	b := buf.Bytes()
	require.Len(t, b, headerSize+len("/28.AABBCCDDEEFF/temperature")+1)

	f := getHeader(b)
	assert.Equal(t, int32(0), f[0])
	assert.Equal(t, int32(len("/28.AABBCCDDEEFF/temperature")+1), f[1])
	assert.Equal(t, msgRead, f[2])
	assert.Equal(t, flagPersistence, f[3])
	assert.Equal(t, int32(readSize), f[4])
	assert.Equal(t, byte(0), b[len(b)-1], "path is NUL terminated")
	assert.Equal(t, []byte{0, 0, 0, 2}, b[8:12], "header is big-endian")
}

func TestDiscover(t *testing.T) {
	s := newFakeServer(t)
	s.dirs["/"] = "/28.AABBCCDDEEFF,/26.000000000001,/1F.000000000002,/81.000000000009,/bus.0,/settings,/system"
	s.dirs["/1F.000000000002/main"] = "/1F.000000000002/main/10.000000000003"
	s.dirs["/1F.000000000002/aux"] = ""
	s.values["/28.AABBCCDDEEFF/address"] = "28AABBCCDDEEFF12"
	s.values["/26.000000000001/address"] = "260000000000014A"
	s.values["/1F.000000000002/main/10.000000000003/address"] = "1000000000000377"
	s.values["/81.000000000009/address"] = "810000000000093C"

	c := dialFake(t, s)
	sensors, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, sensors, 4)

	assert.Equal(t, "28AABBCCDDEEFF12", sensors[0].ID)
	assert.Equal(t, "28", sensors[0].Family)
	assert.True(t, sensors[0].Initialized)
	require.Len(t, sensors[0].Readings, 1)
	assert.Equal(t, types.ReadingTemperature, sensors[0].Readings[0].Type)

	assert.Equal(t, "260000000000014A", sensors[1].ID)
	assert.Len(t, sensors[1].Readings, 3)

	assert.Equal(t, "810000000000093C", sensors[2].ID)
	assert.False(t, sensors[2].Initialized, "unknown family has no readings")

	assert.Equal(t, "1000000000000377", sensors[3].ID)
	assert.True(t, sensors[3].SubDevice)
	assert.Equal(t, "/1F.000000000002/main/10.000000000003", sensors[3].Path)

	assert.Equal(t, int32(1), s.conns.Load(), "persistent connection is reused")
}

func TestRead(t *testing.T) {
	s := newFakeServer(t)
	s.values["/28.AABBCCDDEEFF/temperature"] = "       21.5"

	c := dialFake(t, s)
	sensor := &types.Sensor{ID: "28AABBCCDDEEFF12", Path: "/28.AABBCCDDEEFF", Initialized: true, Readings: Readings("28")}

	require.NoError(t, c.Read(context.Background(), sensor))
	r := sensor.Readings[0]
	assert.True(t, r.Current)
	assert.Equal(t, 21.5, r.Value)
	assert.False(t, r.Valid, "values stay staged until the engine commits them")
}

func TestReadFailureStagesNothing(t *testing.T) {
	s := newFakeServer(t)
	s.values["/26.000000000001/temperature"] = "19.0"

	c := dialFake(t, s)
	sensor := &types.Sensor{ID: "260000000000014A", Path: "/26.000000000001", Initialized: true, Readings: Readings("26")}

	err := c.Read(context.Background(), sensor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServer))
	for _, r := range sensor.Readings {
		assert.False(t, r.Current, r.Name)
	}
}

func TestReadInvalidValue(t *testing.T) {
	s := newFakeServer(t)
	s.values["/28.AABBCCDDEEFF/temperature"] = "n/a"

	c := dialFake(t, s)
	_, err := c.ReadFloat(context.Background(), "/28.AABBCCDDEEFF/temperature")
	assert.Error(t, err)
}

func TestKeepAliveAndReconnect(t *testing.T) {
	s := newFakeServer(t)
	s.persist = false
	s.keepalive = true
	s.values["/system/process/pid"] = "42"

	c := dialFake(t, s)
	for i := 0; i < 3; i++ {
		v, err := c.ReadString(context.Background(), "/system/process/pid")
		require.NoError(t, err)
		assert.Equal(t, "42", v)
	}
	assert.Equal(t, int32(3), s.conns.Load(), "non-persistent server needs one connection per request")

	require.NoError(t, c.Ping(context.Background()))
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dialer{}.Dial(context.Background(), addr, time.Second)
	assert.Error(t, err)
}

func TestRequestCancelled(t *testing.T) {
	// A listener that accepts but never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), 0)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = c.Dir(ctx, "/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 5*time.Second)
}
