package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavkata12/client8/internal/domain"
)

func TestEndpoints_AdvanceWraps(t *testing.T) {
	eps, err := NewEndpoints([]domain.ServerEndpoint{
		{Host: "10.0.0.1", Port: 8080},
		{Host: "10.0.0.2", Port: 8080},
		{Host: "localhost", Port: 9000},
	}, false)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", eps.Current().Host)
	assert.Equal(t, "10.0.0.2", eps.Advance().Host)
	assert.Equal(t, "localhost", eps.Advance().Host)
	assert.Equal(t, "10.0.0.1", eps.Advance().Host, "wraps to the first endpoint")
	assert.Equal(t, 3, eps.Len())
}

func TestEndpoints_SingleEndpoint(t *testing.T) {
	eps, err := NewEndpoints([]domain.ServerEndpoint{{Host: "a", Port: 1}}, false)
	require.NoError(t, err)
	assert.Equal(t, eps.Current(), eps.Advance())
}

func TestEndpoints_Empty(t *testing.T) {
	_, err := NewEndpoints(nil, false)
	assert.Error(t, err)
}

func TestEndpoints_URLs(t *testing.T) {
	ep := domain.ServerEndpoint{Host: "192.168.7.3", Port: 8080}

	plain, _ := NewEndpoints([]domain.ServerEndpoint{ep}, false)
	assert.Equal(t, "http://192.168.7.3:8080", plain.BaseURL(ep))
	assert.Equal(t, "ws://192.168.7.3:8080/ws?computer_id=PC+7%2F1", plain.PushURL(ep, "PC 7/1"))

	secure, _ := NewEndpoints([]domain.ServerEndpoint{ep}, true)
	assert.Equal(t, "https://192.168.7.3:8080", secure.BaseURL(ep))
	assert.Equal(t, "wss://192.168.7.3:8080/ws?computer_id=pc1", secure.PushURL(ep, "pc1"))
}
