package memsession

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/muxhttp/v2/internal/config"
	"example.com/muxhttp/v2/internal/handlers/static"
	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/router"
	"example.com/muxhttp/v2/internal/transport"
)

const sessionTOML = `
[session]
version = "38"
peer_address = "[::1]:8443"
server_host = "www.example.org"
server_port = 8443
async_stream_requests = true
stream_send_window = 1024

[[push]]
url = "https://www.example.org/app.js"
headers = { "content-type" = "text/javascript", "vary" = "accept-language" }
request_headers = { "accept-language" = "en" }
body = "run()"

[[routing.routes]]
path_pattern = "/"
match_type = "Prefix"
handler_type = "StaticResponse"
handler_config = { status = 203, body = "hi" }
`

func loadTestConfig(t *testing.T, data string) *config.Config {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(data), config.FormatTOML)
	require.NoError(t, err)
	config.ApplyDefaults(cfg)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestNewFromConfig(t *testing.T) {
	reg := router.NewHandlerRegistry()
	require.NoError(t, static.Register(reg))

	s, err := NewFromConfig(loadTestConfig(t, sessionTOML), logger.NewDiscardLogger(), reg)
	require.NoError(t, err)

	assert.Equal(t, transport.Version38, s.Version())
	addr, err := s.PeerAddress()
	require.NoError(t, err)
	assert.Equal(t, "[::1]:8443", addr.String())
	assert.Equal(t, transport.ServerID{Host: "www.example.org", Port: 8443}, s.ServerID())
	assert.True(t, s.IsHandshakeConfirmed())

	p := s.PushIndex().GetPromised("https://www.example.org/app.js")
	require.NotNil(t, p)

	// Async stream requests are honored.
	var c completion
	require.ErrorIs(t, s.RequestStream(false, c.fn()), transport.ErrPending)
	s.RunUntilIdle()
	require.Equal(t, 1, c.called)

	st := s.ReleaseStream(&recordingDelegate{})
	_, err = st.WriteHeaders(requestBlock(t, http.MethodGet, "https://www.example.org/index", nil), true)
	require.NoError(t, err)
	s.RunUntilIdle()

	var resp transport.HeaderBlock
	_, err = st.ReadInitialHeaders(&resp, nil)
	require.NoError(t, err)
	status, _ := resp.Get(":status")
	assert.Equal(t, "203", status)
}

func TestNewFromConfig_Errors(t *testing.T) {
	reg := router.NewHandlerRegistry()

	_, err := NewFromConfig(nil, logger.NewDiscardLogger(), reg)
	assert.Error(t, err)

	_, err = NewFromConfig(&config.Config{}, logger.NewDiscardLogger(), reg)
	assert.Error(t, err)

	cfg := loadTestConfig(t, "[session]\nversion = \"39\"\n")
	_, err = NewFromConfig(cfg, logger.NewDiscardLogger(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler registry cannot be nil")

	cfg = loadTestConfig(t, `
[[push]]
url = "https://a.test/x"
[[push]]
url = "https://a.test/x"
`)
	_, err = NewFromConfig(cfg, logger.NewDiscardLogger(), reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push[1]")
}
