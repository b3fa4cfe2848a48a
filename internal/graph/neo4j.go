package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/config"
)

// neo4jRunner executes Cypher over the Bolt driver.
type neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j creates a Neo4j-backed graph store. An empty user connects
// without authentication.
func NewNeo4j(cfg config.Neo4jConfig, logger *zap.Logger) (Store, error) {
	auth := neo4j.NoAuth()
	if cfg.User != "" {
		auth = neo4j.BasicAuth(cfg.User, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &cypherStore{
		r:       &neo4jRunner{driver: driver, database: cfg.Database},
		backend: config.BackendNeo4j,
		logger:  logger,
	}, nil
}

func (n *neo4jRunner) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database, AccessMode: mode})
}

func (n *neo4jRunner) write(ctx context.Context, stmts []statement) error {
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			result, err := tx.Run(ctx, st.cypher, st.params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (n *neo4jRunner) read(ctx context.Context, st statement) ([]row, error) {
	session := n.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, st.cypher, st.params)
	if err != nil {
		return nil, err
	}
	var rows []row
	for result.Next(ctx) {
		rows = append(rows, row(result.Record().AsMap()))
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (n *neo4jRunner) createIndex(ctx context.Context, label, property string) error {
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	name := fmt.Sprintf("%s_%s", label, property)
	result, err := session.Run(ctx,
		fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)", name, label, property), nil)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

func (n *neo4jRunner) ping(ctx context.Context) error {
	return n.driver.VerifyConnectivity(ctx)
}

func (n *neo4jRunner) close(ctx context.Context) error {
	return n.driver.Close(ctx)
}
