package graph

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"

	"github.com/txn2/graphql-webapp/pkg/users"
)

// ErrAuthRequired is returned by resolvers that need a signed-in user.
var ErrAuthRequired = errors.New("authentication required")

// NewSchema builds the default schema backed by repo.
func NewSchema(repo users.Repository) (graphql.Schema, error) {
	userType := graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return userSource(p).ID.String(), nil
				},
			},
			"email": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return userSource(p).Email, nil
				},
			},
			"name": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return userSource(p).Name, nil
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"me": &graphql.Field{
				Type:        userType,
				Description: "The signed-in user, or null.",
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if u := currentUser(p); u != nil {
						return u, nil
					}
					return nil, nil
				},
			},
			"user": &graphql.Field{
				Type:        userType,
				Description: "A user by id. Requires a signed-in user.",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if currentUser(p) == nil {
						return nil, ErrAuthRequired
					}
					raw, _ := p.Args["id"].(string)
					id, err := uuid.Parse(raw)
					if err != nil {
						return nil, nil
					}
					u, err := repo.FindByID(p.Context, id)
					if err != nil {
						return nil, fmt.Errorf("loading user: %w", err)
					}
					if u == nil {
						return nil, nil
					}
					return u, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("building schema: %w", err)
	}
	return schema, nil
}

func currentUser(p graphql.ResolveParams) *users.User {
	rc := RequestContextFrom(p.Context)
	if rc == nil || rc.User == nil {
		return nil
	}
	return users.UserFromPrincipal(rc.User)
}

func userSource(p graphql.ResolveParams) *users.User {
	u, _ := p.Source.(*users.User)
	if u == nil {
		return &users.User{}
	}
	return u
}
