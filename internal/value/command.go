// Package value holds the request-level data model: the QueryCommand
// envelope, the SqlWrapper criterion sum type, and the value preprocessor
// described in spec.md §3/§4.2.
package value

import "encoding/json"

// QueryCommand is the client request envelope (spec.md §3).
type QueryCommand struct {
	Template        string         `json:"template,omitempty"`
	Query           string         `json:"query,omitempty"`
	Criteria        map[string]any `json:"criteria,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	ConnectionID    string         `json:"connection_id,omitempty"`
	AlreadyRendered bool           `json:"already_rendered,omitempty"`
}

// aliasCommand accepts both snake_case and camelCase wire keys, per
// spec.md §4.6 do_get step 1 ("accept both snake_case and camelCase keys").
type aliasCommand struct {
	Template        string         `json:"template,omitempty"`
	Query           string         `json:"query,omitempty"`
	Criteria        map[string]any `json:"criteria,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	SessionIDCamel  string         `json:"sessionId,omitempty"`
	ConnectionID    string         `json:"connection_id,omitempty"`
	ConnectionIDAlt string         `json:"connectionId,omitempty"`
	AlreadyRendered bool           `json:"already_rendered,omitempty"`
	AlreadyRendrAlt bool           `json:"alreadyRendered,omitempty"`
}

// ParseCommand decodes a QueryCommand from its wire JSON form, normalizing
// camelCase aliases and defaulting SessionID to "default".
func ParseCommand(data []byte) (*QueryCommand, error) {
	var a aliasCommand
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	cmd := &QueryCommand{
		Template:        a.Template,
		Query:           a.Query,
		Criteria:        a.Criteria,
		SessionID:       firstNonEmpty(a.SessionID, a.SessionIDCamel, "default"),
		ConnectionID:    firstNonEmpty(a.ConnectionID, a.ConnectionIDAlt),
		AlreadyRendered: a.AlreadyRendered || a.AlreadyRendrAlt,
	}
	return cmd, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// HasExternalConnection reports whether the command targets an external
// connection directly, bypassing the embedded engine (spec.md §3 invariant
// for ConnectionID, §4.6 step 2).
func (c *QueryCommand) HasExternalConnection() bool {
	return c.ConnectionID != "" && c.ConnectionID != "default"
}

// Marshal renders the command back to wire JSON (snake_case), used when
// building do_get tickets in internal/pipeline.
func (c *QueryCommand) Marshal() ([]byte, error) {
	return json.Marshal(c)
}
