package flightserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sqlgateway/flightgw/internal/action"
	"github.com/sqlgateway/flightgw/internal/connreg"
	"github.com/sqlgateway/flightgw/internal/engine"
	"github.com/sqlgateway/flightgw/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg, err := connreg.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	eng := engine.New()
	sessions := session.NewManager(10, func(id string) (session.AnalyticalContext, error) {
		return eng.NewSessionContext(id)
	}, zerolog.Nop())

	return &Server{
		Actions: &action.Handler{Sessions: sessions, Connections: reg},
	}
}

func TestDispatchCreateSession(t *testing.T) {
	s := newTestServer(t)
	body, err := s.dispatch(context.Background(), "create_session", []byte(`{}`))
	require.NoError(t, err)

	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Contains(t, resp.SessionID, "Session_")
}

func TestDispatchListConnections(t *testing.T) {
	s := newTestServer(t)
	body, err := s.dispatch(context.Background(), "list_connections", nil)
	require.NoError(t, err)

	var conns []map[string]any
	require.NoError(t, json.Unmarshal(body, &conns))
}

func TestDispatchUnknownAction(t *testing.T) {
	s := newTestServer(t)
	_, err := s.dispatch(context.Background(), "bogus", nil)
	require.Error(t, err)
}
