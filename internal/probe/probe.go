// Package probe queries game servers for liveness over the Source engine
// A2S_INFO protocol.
package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	defaultTimeout = 2 * time.Second

	maxDatagram = 1400

	headerInfoRequest  = 0x54
	headerInfoResponse = 0x49
	headerChallenge    = 0x41
)

// a2sInfoPayload is the A2S_INFO request without a challenge suffix.
var a2sInfoPayload = append([]byte{0xFF, 0xFF, 0xFF, 0xFF, headerInfoRequest}, "Source Engine Query\x00"...)

// Info is a parsed A2S_INFO response.
type Info struct {
	Name       string `json:"name"`
	Map        string `json:"map"`
	Folder     string `json:"folder"`
	Game       string `json:"game"`
	AppID      int    `json:"appId"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Bots       int    `json:"bots"`
}

// Result is the outcome of one probe. A failed probe is a valid result with
// Online unset, not an error: unreachable hosts are an expected state.
type Result struct {
	Online bool
	Info   *Info
	PingMs int
	Err    error
}

// Raw serializes the probe outcome for snapshot storage.
func (r *Result) Raw() []byte {
	payload := map[string]any{"online": r.Online}
	if r.Info != nil {
		payload["info"] = r.Info
	}
	if r.Err != nil {
		payload["error"] = r.Err.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// Prober checks whether a game server answers an info query.
type Prober interface {
	Probe(ctx context.Context, ip string, port int) *Result
}

type prober struct {
	timeout time.Duration
}

// New creates a Prober. A zero timeout keeps the default of two seconds.
func New(timeout time.Duration) Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &prober{timeout: timeout}
}

// Probe sends a single A2S_INFO query with one challenge retry. Any failure
// within the timeout yields an offline result carrying the cause.
func (p *prober) Probe(ctx context.Context, ip string, port int) *Result {
	started := time.Now()

	info, err := p.query(ctx, net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return &Result{Err: err}
	}
	return &Result{
		Online: true,
		Info:   info,
		PingMs: int(time.Since(started).Milliseconds()),
	}
}

func (p *prober) query(ctx context.Context, addr string) (*Info, error) {
	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial server: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	resp, err := p.exchange(conn, a2sInfoPayload)
	if err != nil {
		return nil, err
	}

	// Newer servers answer the bare query with a challenge that must be
	// echoed back.
	if resp[0] == headerChallenge {
		if len(resp) < 5 {
			return nil, fmt.Errorf("short challenge response: %d bytes", len(resp))
		}
		resp, err = p.exchange(conn, append(append([]byte{}, a2sInfoPayload...), resp[1:5]...))
		if err != nil {
			return nil, err
		}
	}

	if resp[0] != headerInfoResponse {
		return nil, fmt.Errorf("unexpected response header 0x%02x", resp[0])
	}
	return parseInfo(resp[1:])
}

func (p *prober) exchange(conn net.Conn, payload []byte) ([]byte, error) {
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to send query: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("no response: %w", err)
	}
	if n < 5 || !bytes.Equal(buf[:4], []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		return nil, fmt.Errorf("malformed response: %d bytes", n)
	}
	return buf[4:n], nil
}

func parseInfo(data []byte) (*Info, error) {
	r := &reader{data: data}

	r.byte() // protocol version
	info := &Info{
		Name:   r.string(),
		Map:    r.string(),
		Folder: r.string(),
		Game:   r.string(),
	}
	info.AppID = int(r.uint16())
	info.Players = int(r.byte())
	info.MaxPlayers = int(r.byte())
	info.Bots = int(r.byte())

	if r.err != nil {
		return nil, fmt.Errorf("truncated info response: %w", r.err)
	}
	return info, nil
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) byte() byte {
	if r.err != nil || r.pos >= len(r.data) {
		r.err = fmt.Errorf("unexpected end of payload at offset %d", r.pos)
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) uint16() uint16 {
	if r.err != nil || r.pos+2 > len(r.data) {
		r.err = fmt.Errorf("unexpected end of payload at offset %d", r.pos)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	end := bytes.IndexByte(r.data[r.pos:], 0)
	if end < 0 {
		r.err = fmt.Errorf("unterminated string at offset %d", r.pos)
		return ""
	}
	s := string(r.data[r.pos : r.pos+end])
	r.pos += end + 1
	return s
}
