package intent

import (
	"encoding/json"
	"maps"
)

type ActionKind string

const (
	ActionRedirect ActionKind = "redirect"
	ActionDBQuery  ActionKind = "db_query"
)

// Action is what the caller should do after answering: navigate somewhere or run a
// named query. It is either a Redirect or a DBQuery.
type Action interface {
	Kind() ActionKind
}

// Redirect asks the client to navigate to URL.
type Redirect struct {
	URL string
}

func (Redirect) Kind() ActionKind {
	return ActionRedirect
}

func (r Redirect) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type ActionKind `json:"type"`
		URL  string     `json:"url"`
	}{ActionRedirect, r.URL})
}

// DBQuery asks the caller to execute the query identified by QueryID with Parameters.
type DBQuery struct {
	QueryID    string
	Parameters map[string]string
}

func (DBQuery) Kind() ActionKind {
	return ActionDBQuery
}

func (q DBQuery) MarshalJSON() ([]byte, error) {
	params := q.Parameters
	if params == nil {
		params = map[string]string{}
	}
	return json.Marshal(struct {
		Type       ActionKind        `json:"type"`
		QueryID    string            `json:"query_id"`
		Parameters map[string]string `json:"parameters"`
	}{ActionDBQuery, q.QueryID, params})
}

// Dispatch returns the action bound to an intent, or nil for Unknown and for intents
// that only answer.
func Dispatch(i Intent) Action {
	d, ok := definitions[i]
	if !ok || d.Action == nil {
		return nil
	}
	switch a := d.Action.(type) {
	case DBQuery:
		// callers fill parameters; never hand out the table's map
		return DBQuery{QueryID: a.QueryID, Parameters: maps.Clone(a.Parameters)}
	default:
		return a
	}
}

// withEntities returns action with the extracted entities attached as query parameters.
func withEntities(action Action, e Entities) Action {
	q, ok := action.(DBQuery)
	if !ok {
		return action
	}
	if q.Parameters == nil {
		q.Parameters = map[string]string{}
	}
	for k, v := range e.asMap() {
		q.Parameters[k] = v
	}
	return q
}
