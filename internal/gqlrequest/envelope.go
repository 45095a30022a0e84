package gqlrequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
)

const graphqlMediaType = "application/graphql"

// Envelope is a GraphQL request as received: the document text, the
// operation to run and the still-encoded variables.
type Envelope struct {
	Query         string
	OperationName string
	VariablesRaw  json.RawMessage

	DocumentSizeBytes int
}

type jsonEnvelope struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

// DecodeEnvelope reads a request body. An "application/graphql" body is the
// document itself; any other content type is the JSON object
// {query, operationName, variables}. With no content type, a body that does
// not open with "{" is taken as a bare document.
func DecodeEnvelope(r io.Reader, contentType string) (Envelope, error) {
	if r == nil {
		return Envelope{}, errors.New("request body is nil")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if bareDocument(contentType, body) {
		env.Query = string(body)
	} else if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		var payload jsonEnvelope
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return Envelope{}, fmt.Errorf("decode request payload: %w", err)
		}
		env.Query, env.OperationName = payload.Query, payload.OperationName
		if v := bytes.TrimSpace(payload.Variables); len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			env.VariablesRaw = bytes.Clone(v)
		}
	}
	env.DocumentSizeBytes = len(env.Query)
	return env, nil
}

func bareDocument(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(contentType)
	}
	if mediaType != "" {
		return mediaType == graphqlMediaType
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || trimmed[0] != '{'
}

// Variables decodes the variables object. Numbers are kept as json.Number
// so operands see the literal the client sent.
func (e Envelope) Variables() (map[string]any, error) {
	if len(e.VariablesRaw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(e.VariablesRaw))
	dec.UseNumber()
	var vars map[string]any
	if err := dec.Decode(&vars); err != nil {
		return nil, fmt.Errorf("variables must be a JSON object: %w", err)
	}
	return vars, nil
}
