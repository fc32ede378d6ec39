package engine

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// queryResultCap bounds document reads so an unfiltered collection scan
// cannot exhaust memory.
const queryResultCap = 1000

// mongoConn is the document-store adapter. The SQL-shaped capability
// interface maps onto it as follows: ExecuteQuery takes a collection name
// plus an optional extended-JSON filter argument, ExecuteCommand takes an
// extended-JSON database command document, and TableSchema infers field
// types from a representative document since collections carry no fixed
// schema.
type mongoConn struct {
	client *mongo.Client
	cfg    ConnectionConfig
}

func newMongoConn(ctx context.Context, cfg ConnectionConfig) (Connector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	u := url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/",
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := u.Query()
	if cfg.SSL {
		q.Set("tls", "true")
	}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	opts := options.Client().
		ApplyURI(u.String()).
		SetMaxPoolSize(uint64(cfg.maxConns())).
		SetServerSelectionTimeout(cfg.Timeout)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, wrapTimeout(fmt.Sprintf("connecting mongodb %q", cfg.Name), err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, wrapTimeout(fmt.Sprintf("pinging mongodb %q", cfg.Name), err)
	}

	return &mongoConn{client: client, cfg: cfg}, nil
}

func (c *mongoConn) Kind() EngineKind { return Mongo }

func (c *mongoConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	return c.client.Disconnect(ctx)
}

func (c *mongoConn) database() *mongo.Database {
	return c.client.Database(c.cfg.Database)
}

func (c *mongoConn) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// parseFilter accepts an extended-JSON string or a ready map as the filter
// argument.
func parseFilter(arg any) (bson.M, error) {
	switch v := arg.(type) {
	case nil:
		return bson.M{}, nil
	case string:
		if v == "" {
			return bson.M{}, nil
		}
		var filter bson.M
		if err := bson.UnmarshalExtJSON([]byte(v), true, &filter); err != nil {
			return nil, fmt.Errorf("parsing filter document: %w", err)
		}
		return filter, nil
	case bson.M:
		return v, nil
	case map[string]any:
		return bson.M(v), nil
	default:
		return nil, fmt.Errorf("parsing filter document: unsupported type %T", arg)
	}
}

func (c *mongoConn) ExecuteQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var filterArg any
	if len(args) > 0 {
		filterArg = args[0]
	}
	filter, err := parseFilter(filterArg)
	if err != nil {
		return nil, fmt.Errorf("querying collection %q: %w", query, err)
	}

	cur, err := c.database().Collection(query).Find(ctx, filter,
		options.Find().SetLimit(queryResultCap))
	if err != nil {
		return nil, wrapTimeout(fmt.Sprintf("querying collection %q on %q", query, c.cfg.Name), err)
	}
	defer cur.Close(ctx)

	var result []map[string]any
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding document from %q: %w", query, err)
		}
		result = append(result, normalizeDoc(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, wrapTimeout(fmt.Sprintf("iterating collection %q on %q", query, c.cfg.Name), err)
	}
	return result, nil
}

// ExecuteCommand runs an extended-JSON database command (insert, update,
// delete and friends) and returns the affected-document count the server
// reports.
func (c *mongoConn) ExecuteCommand(ctx context.Context, command string, args ...any) (int64, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(command), true, &cmd); err != nil {
		return 0, fmt.Errorf("parsing command document on %q: %w", c.cfg.Name, err)
	}

	var result bson.M
	if err := c.database().RunCommand(ctx, cmd).Decode(&result); err != nil {
		return 0, wrapTimeout(fmt.Sprintf("running command on %q", c.cfg.Name), err)
	}
	return affectedCount(result), nil
}

func affectedCount(result bson.M) int64 {
	for _, key := range []string{"n", "nModified"} {
		switch v := result[key].(type) {
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

func (c *mongoConn) Tables(ctx context.Context) ([]string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	names, err := c.database().ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, wrapTimeout(fmt.Sprintf("listing collections on %q", c.cfg.Name), err)
	}
	sort.Strings(names)
	return names, nil
}

// TableSchema samples one representative document and reports inferred
// field types.
func (c *mongoConn) TableSchema(ctx context.Context, table string) ([]ColumnInfo, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var doc bson.M
	err := c.database().Collection(table).FindOne(ctx, bson.M{}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("introspecting collection %q on %q: collection is empty or missing", table, c.cfg.Name)
		}
		return nil, wrapTimeout(fmt.Sprintf("introspecting collection %q on %q", table, c.cfg.Name), err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]ColumnInfo, 0, len(names))
	for _, name := range names {
		cols = append(cols, ColumnInfo{
			Name:     name,
			DataType: inferBSONType(doc[name]),
			Nullable: true,
		})
	}
	return cols, nil
}

func inferBSONType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int32, int64:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime, time.Time:
		return "date"
	case bson.M, bson.D, map[string]any:
		return "document"
	case bson.A, []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func normalizeDoc(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		switch t := v.(type) {
		case primitive.ObjectID:
			out[k] = t.Hex()
		case primitive.DateTime:
			out[k] = t.Time().UTC()
		default:
			out[k] = v
		}
	}
	return out
}

func (c *mongoConn) CheckHealth(ctx context.Context) ConnectionStatus {
	status := ConnectionStatus{
		LastCheck: time.Now().UTC(),
		PoolSize:  c.cfg.PoolSize,
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	start := time.Now()
	err := c.client.Ping(ctx, readpref.Primary())
	status.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true
	return status
}

// mongoTx runs query and command operations inside a session transaction.
// Operations execute on the session context so they ride the transaction;
// the per-call context only carries cancellation through the timeout wrapper,
// which preserves the attached session.
type mongoTx struct {
	conn *mongoConn
	sc   mongo.SessionContext
}

func (t *mongoTx) ExecuteQuery(_ context.Context, query string, args ...any) ([]map[string]any, error) {
	return t.conn.ExecuteQuery(t.sc, query, args...)
}

func (t *mongoTx) ExecuteCommand(_ context.Context, command string, args ...any) (int64, error) {
	return t.conn.ExecuteCommand(t.sc, command, args...)
}

func (c *mongoConn) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session, err := c.client.StartSession()
	if err != nil {
		return wrapTimeout(fmt.Sprintf("starting session on %q", c.cfg.Name), err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(&mongoTx{conn: c, sc: sc})
	})
	if err != nil {
		return wrapTimeout(fmt.Sprintf("transaction on %q", c.cfg.Name), err)
	}
	return nil
}
