package graph

import (
	"context"

	"github.com/graphql-go/graphql"

	"github.com/txn2/graphql-webapp/pkg/users"
)

// Request is a GraphQL operation as sent by clients.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

// Service executes requests against a schema.
type Service struct {
	schema graphql.Schema
}

// NewService builds a Service with the default schema.
func NewService(repo users.Repository) (*Service, error) {
	schema, err := NewSchema(repo)
	if err != nil {
		return nil, err
	}
	return &Service{schema: schema}, nil
}

// NewServiceWithSchema builds a Service for a custom schema.
func NewServiceWithSchema(schema graphql.Schema) *Service {
	return &Service{schema: schema}
}

// Execute runs req. Resolvers read the RequestContext from ctx.
func (s *Service) Execute(ctx context.Context, req Request) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}
