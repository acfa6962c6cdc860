// internal/models/query.go
package models

import (
	"strings"

	"github.com/google/uuid"
)

// Query is a single inbound finance question. It is never mutated after NewQuery.
type Query struct {
	Text          string            `json:"query"`
	Context       map[string]string `json:"context,omitempty"`
	CorrelationID string            `json:"correlation_id"`
	UserID        string            `json:"user_id,omitempty"`
}

// NewQuery builds a Query, generating a correlation id when none is supplied.
func NewQuery(text string, context map[string]string, correlationID string) Query {
	if strings.TrimSpace(correlationID) == "" {
		correlationID = uuid.New().String()
	}

	var ctxCopy map[string]string
	if len(context) > 0 {
		ctxCopy = make(map[string]string, len(context))
		for k, v := range context {
			ctxCopy[k] = v
		}
	}

	return Query{
		Text:          text,
		Context:       ctxCopy,
		CorrelationID: correlationID,
	}
}

// WithUser returns a copy of the query attributed to userID.
func (q Query) WithUser(userID string) Query {
	q.UserID = userID
	return q
}
