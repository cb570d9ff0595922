package flightserver

import (
	"context"
	"encoding/json"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/google/uuid"

	"github.com/sqlgateway/flightgw/internal/action"
	"github.com/sqlgateway/flightgw/internal/apperrors"
)

// actionTypes enumerates the do_action surface of spec.md §4.8, in the
// order ListActions reports them.
var actionTypes = []*flight.ActionType{
	{Type: "get_schema", Description: "read the session's analytical context schema"},
	{Type: "refresh_table", Description: "probe a registered table for liveness"},
	{Type: "drop_table", Description: "drop a registered table or view"},
	{Type: "refresh_all", Description: "refresh every table registered in the session"},
	{Type: "list_connections", Description: "list all registered external connections"},
	{Type: "save_connection", Description: "create a new external connection"},
	{Type: "delete_connection", Description: "delete an external connection"},
	{Type: "create_session", Description: "allocate a new session id"},
}

// ListActions reports the fixed do_action surface (spec.md §4.8).
func (s *Server) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	for _, a := range actionTypes {
		if err := stream.Send(a); err != nil {
			return err
		}
	}
	return nil
}

// DoAction dispatches one of the eight spec.md §4.8 actions, returning a
// single JSON-encoded Flight Result.
func (s *Server) DoAction(action_ *flight.Action, stream flight.FlightService_DoActionServer) error {
	ctx := stream.Context()
	reqLog := s.Log.With().Str("request_id", uuid.NewString()).Str("action_type", action_.Type).Logger()
	reqLog.Debug().Msg("do_action")

	body, err := s.dispatch(ctx, action_.Type, action_.Body)
	if err != nil {
		reqLog.Warn().Err(err).Msg("do_action failed")
		return apperrors.ToStatus(err)
	}
	return stream.Send(&flight.Result{Body: body})
}

func (s *Server) dispatch(ctx context.Context, actionType string, body []byte) ([]byte, error) {
	switch actionType {
	case "get_schema":
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidCommand, err, "decoding get_schema request")
		}
		return s.Actions.GetSchema(ctx, req.SessionID)

	case "refresh_table":
		var req struct {
			SessionID string `json:"session_id"`
			TableName string `json:"table_name"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidCommand, err, "decoding refresh_table request")
		}
		return json.Marshal(s.Actions.RefreshTable(ctx, req.SessionID, req.TableName))

	case "drop_table":
		var req struct {
			SessionID string `json:"session_id"`
			TableName string `json:"table_name"`
			TableType string `json:"table_type"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidCommand, err, "decoding drop_table request")
		}
		if err := s.Actions.DropTable(ctx, req.SessionID, req.TableName, req.TableType); err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Success bool `json:"success"`
		}{true})

	case "refresh_all":
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidCommand, err, "decoding refresh_all request")
		}
		return json.Marshal(s.Actions.RefreshAll(ctx, req.SessionID))

	case "list_connections":
		return s.Actions.ListConnections(), nil

	case "save_connection":
		var req action.SaveConnectionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidCommand, err, "decoding save_connection request")
		}
		conn, err := s.Actions.SaveConnection(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(conn)

	case "delete_connection":
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidCommand, err, "decoding delete_connection request")
		}
		if err := s.Actions.DeleteConnection(ctx, req.ID); err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Success bool `json:"success"`
		}{true})

	case "create_session":
		id, err := s.Actions.CreateSession()
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			SessionID string `json:"session_id"`
		}{id})

	default:
		return nil, apperrors.New(apperrors.InvalidCommand, "unknown action %q", actionType)
	}
}
