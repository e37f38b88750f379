// SPDX-License-Identifier: Apache-2.0

// Package mongo implements the MongoDB source adapter. Documents flow as
// typed BSON into the JSONB converter; TableSize and StreamRows treat each
// collection as a QualifiedTable with an implicit "public" schema.
package mongo

import (
	"context"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/jsonconv"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/source"
)

var systemCollectionPrefix = "system."

// Adapter connects to a MongoDB deployment. The database name is required
// and is extracted from the connection URL's path component.
type Adapter struct {
	uri      string
	database string
	client   *mongo.Client
}

// New validates the URL prefix and extracts the required database name
// from the URL path.
func New(uri string) (*Adapter, error) {
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return nil, errs.Newf(errs.InvalidInput, "mongodb locator %q must start with mongodb:// or mongodb+srv://", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "parsing mongodb locator", err)
	}
	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		return nil, errs.New(errs.InvalidInput, "mongodb locator must name a database in its path")
	}
	return &Adapter{uri: uri, database: database}, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	opts := options.Client().ApplyURI(a.uri).SetReadPreference(readpref.SecondaryPreferred())
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errs.Wrap(errs.SourcePrecondition, "connecting to mongodb source", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return errs.Wrap(errs.SourcePrecondition, "pinging mongodb source", err)
	}
	a.client = client
	return nil
}

// ListDatabases returns the single database named in the locator: unlike
// PostgreSQL or MySQL, a MongoDB source locator is scoped to one database.
func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{a.database}, nil
}

func (a *Adapter) ListTables(ctx context.Context, database string) ([]scope.QualifiedTable, error) {
	names, err := a.client.Database(database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "listing mongodb collections", err)
	}

	var tables []scope.QualifiedTable
	for _, name := range names {
		if strings.HasPrefix(name, systemCollectionPrefix) {
			continue
		}
		t := scope.QualifiedTable{Database: database, Schema: "public", Table: name}
		if err := scope.ValidateIdentifier(name); err != nil {
			continue
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (a *Adapter) TableSize(ctx context.Context, table scope.QualifiedTable) (source.TableSize, error) {
	coll := a.client.Database(table.Database).Collection(table.Table)
	count, err := coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return source.TableSize{}, errs.Wrap(errs.SourcePrecondition, "estimating collection size", err)
	}
	return source.TableSize{Rows: count}, nil
}

// StreamRows applies predicate as a MongoDB filter when it parses as
// extended JSON; an empty predicate streams the whole collection.
func (a *Adapter) StreamRows(ctx context.Context, table scope.QualifiedTable, predicate string) (source.RowStream, error) {
	filter := bson.D{}
	if predicate != "" {
		if err := bson.UnmarshalExtJSON([]byte(predicate), true, &filter); err != nil {
			return nil, errs.Wrap(errs.InvalidInput, "parsing mongodb filter predicate", err)
		}
	}

	coll := a.client.Database(table.Database).Collection(table.Table)
	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "streaming mongodb documents", err)
	}
	return &rowStream{cursor: cursor}, nil
}

func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(context.Background())
}

type rowStream struct {
	cursor *mongo.Cursor
}

func (s *rowStream) Next(ctx context.Context) (jsonconv.SourceRow, bool, error) {
	if !s.cursor.Next(ctx) {
		return jsonconv.SourceRow{}, false, s.cursor.Err()
	}

	var doc bson.D
	if err := bson.Unmarshal(s.cursor.Current, &doc); err != nil {
		return jsonconv.SourceRow{}, false, errs.Wrap(errs.SourcePrecondition, "decoding bson document", err)
	}

	columns := make([]string, 0, len(doc))
	values := make([]any, 0, len(doc))
	for _, el := range doc {
		columns = append(columns, el.Key)
		values = append(values, el.Value)
	}
	return jsonconv.SourceRow{Columns: columns, Values: values}, true, nil
}

func (s *rowStream) Close() error {
	return s.cursor.Close(context.Background())
}
