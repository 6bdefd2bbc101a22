package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func infoResponse() []byte {
	payload := []byte{0xFF, 0xFF, 0xFF, 0xFF, headerInfoResponse, 0x11}
	for _, s := range []string{"Test Server", "de_dust2", "csgo", "Counter-Strike"} {
		payload = append(payload, s...)
		payload = append(payload, 0)
	}
	payload = append(payload,
		0x64, 0x02, // appid 612
		12,   // players
		24,   // max players
		2,    // bots
	)
	return payload
}

// fakeServer answers UDP queries with canned responses, one per received
// datagram, and records what it got.
func fakeServer(t *testing.T, responses ...[]byte) (string, int, *[][]byte) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	received := &[][]byte{}
	go func() {
		buf := make([]byte, 1400)
		for _, resp := range responses {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			got := make([]byte, n)
			copy(got, buf[:n])
			*received = append(*received, got)
			_, _ = conn.WriteTo(resp, addr)
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String(), addr.Port, received
}

func TestProbe_Online(t *testing.T) {
	t.Parallel()

	ip, port, _ := fakeServer(t, infoResponse())

	result := New(time.Second).Probe(context.Background(), ip, port)

	require.NoError(t, result.Err)
	assert.True(t, result.Online)
	require.NotNil(t, result.Info)
	assert.Equal(t, "Test Server", result.Info.Name)
	assert.Equal(t, "de_dust2", result.Info.Map)
	assert.Equal(t, 612, result.Info.AppID)
	assert.Equal(t, 12, result.Info.Players)
	assert.Equal(t, 24, result.Info.MaxPlayers)
	assert.GreaterOrEqual(t, result.PingMs, 0)
}

func TestProbe_ChallengeRetry(t *testing.T) {
	t.Parallel()

	challenge := []byte{0xFF, 0xFF, 0xFF, 0xFF, headerChallenge, 0xDE, 0xAD, 0xBE, 0xEF}
	ip, port, received := fakeServer(t, challenge, infoResponse())

	result := New(time.Second).Probe(context.Background(), ip, port)

	require.NoError(t, result.Err)
	assert.True(t, result.Online)

	require.Len(t, *received, 2)
	second := (*received)[1]
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, second[len(second)-4:],
		"retry should echo the challenge token")
}

func TestProbe_Offline(t *testing.T) {
	t.Parallel()

	// A port nothing listens on: the read times out and the result is an
	// offline snapshot, not an error return.
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())

	result := New(200 * time.Millisecond).Probe(context.Background(), "127.0.0.1", port)

	assert.False(t, result.Online)
	assert.Nil(t, result.Info)
	require.Error(t, result.Err)
}

func TestProbe_MalformedResponse(t *testing.T) {
	t.Parallel()

	ip, port, _ := fakeServer(t, []byte{0x01, 0x02})

	result := New(time.Second).Probe(context.Background(), ip, port)

	assert.False(t, result.Online)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "malformed response")
}

func TestParseInfo_Truncated(t *testing.T) {
	t.Parallel()

	_, err := parseInfo([]byte{0x11, 'a'})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestResultRaw(t *testing.T) {
	t.Parallel()

	online := &Result{Online: true, Info: &Info{Name: "s", Players: 3}}
	assert.JSONEq(t, `{"online": true, "info": {"name": "s", "map": "", "folder": "", "game": "", "appId": 0, "players": 3, "maxPlayers": 0, "bots": 0}}`,
		string(online.Raw()))

	offline := &Result{Err: context.DeadlineExceeded}
	assert.JSONEq(t, `{"online": false, "error": "context deadline exceeded"}`, string(offline.Raw()))
}
