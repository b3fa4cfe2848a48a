package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/config"
)

// falkorRunner speaks GRAPH.QUERY over the Redis protocol.
type falkorRunner struct {
	rdb   *redis.Client
	graph string
}

// NewFalkorDB creates a FalkorDB-backed graph store. Addr is host:port or a
// redis:// URL.
func NewFalkorDB(cfg config.FalkorDBConfig, logger *zap.Logger) Store {
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password}
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		if parsed, err := redis.ParseURL(cfg.Addr); err == nil {
			opts = parsed
		} else {
			logger.Warn("invalid falkordb url, using it as address", zap.Error(err))
		}
	}
	// Graph replies are decoded from the RESP2 array layout.
	opts.Protocol = 2
	graph := cfg.Graph
	if graph == "" {
		graph = "resume_knowledge_graph"
	}
	return &cypherStore{
		r:       &falkorRunner{rdb: redis.NewClient(opts), graph: graph},
		backend: config.BackendFalkorDB,
		logger:  logger,
	}
}

func (f *falkorRunner) query(ctx context.Context, st statement) (any, error) {
	return f.rdb.Do(ctx, "GRAPH.QUERY", f.graph, withParams(st)).Result()
}

// FalkorDB has no multi-statement transactions; statements run in order and
// MERGE keeps a retried write idempotent.
func (f *falkorRunner) write(ctx context.Context, stmts []statement) error {
	for i, st := range stmts {
		if _, err := f.query(ctx, st); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}

func (f *falkorRunner) read(ctx context.Context, st statement) ([]row, error) {
	reply, err := f.query(ctx, st)
	if err != nil {
		return nil, err
	}
	return parseGraphReply(reply)
}

func (f *falkorRunner) createIndex(ctx context.Context, label, property string) error {
	_, err := f.query(ctx, statement{cypher: fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.%s)", label, property)})
	if err != nil && (strings.Contains(err.Error(), "already indexed") || strings.Contains(err.Error(), "already exists")) {
		return nil
	}
	return err
}

func (f *falkorRunner) ping(ctx context.Context) error {
	return f.rdb.Ping(ctx).Err()
}

func (f *falkorRunner) close(context.Context) error {
	return f.rdb.Close()
}

// parseGraphReply turns [header, rows, stats] into rows keyed by column name.
// Write-only queries reply with just [stats].
func parseGraphReply(reply any) ([]row, error) {
	parts, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected graph reply %T", reply)
	}
	if len(parts) < 3 {
		return nil, nil
	}
	header, ok := parts[0].([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected graph header %T", parts[0])
	}
	cols := make([]string, len(header))
	for i, h := range header {
		// Compact replies carry [type, name] pairs.
		if pair, ok := h.([]any); ok && len(pair) > 0 {
			h = pair[len(pair)-1]
		}
		cols[i] = fmt.Sprint(h)
	}
	records, ok := parts[1].([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected graph rows %T", parts[1])
	}
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		vals, ok := rec.([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected graph record %T", rec)
		}
		r := make(row, len(cols))
		for i, c := range cols {
			if i < len(vals) {
				r[c] = vals[i]
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// withParams prefixes a query with the CYPHER parameter header.
func withParams(st statement) string {
	if len(st.params) == 0 {
		return st.cypher
	}
	keys := make([]string, 0, len(st.params))
	for k := range st.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("CYPHER")
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(cypherLiteral(st.params[k]))
	}
	b.WriteString(" ")
	b.WriteString(st.cypher)
	return b.String()
}

func cypherLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = quote(s)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return quote(fmt.Sprint(x))
	}
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}
