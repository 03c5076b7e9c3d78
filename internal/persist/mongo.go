package persist

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jpalmerr/reachboard/internal/model"
)

const (
	defaultMongoDatabase   = "network_monitoring"
	defaultMongoCollection = "status_history"

	// legacyCheckedLayout is the local-time Last_checked format of documents
	// shaped {name: {Status, Response_time, Last_checked}}.
	legacyCheckedLayout = "2006-01-02 15:04:05"
)

// mongoDocument is the stored shape of an observation.
type mongoDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	TargetName string             `bson:"target_name"`
	Reachable  bool               `bson:"reachable"`
	LatencyMs  *float64           `bson:"latency_ms"`
	ObservedAt time.Time          `bson:"observed_at"`
}

// MongoGateway appends observations to a MongoDB collection.
//
// The database is taken from the URL path and the collection from the
// "collection" query parameter, defaulting to network_monitoring and
// status_history.
type MongoGateway struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoGateway connects to MongoDB. The connection is lazy; use Ping to
// verify the server answers.
func NewMongoGateway(ctx context.Context, rawURL string) (*MongoGateway, error) {
	uri, database, collection, err := splitMongoURL(rawURL)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(pingTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	return &MongoGateway{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// splitMongoURL pulls the database and collection out of rawURL and returns
// a URI the driver accepts.
func splitMongoURL(rawURL string) (uri, database, collection string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid mongodb url: %w", err)
	}

	database = strings.Trim(u.Path, "/")
	if database == "" {
		database = defaultMongoDatabase
	}

	q := u.Query()
	collection = q.Get("collection")
	if collection == "" {
		collection = defaultMongoCollection
	}
	q.Del("collection")
	u.RawQuery = q.Encode()

	return u.String(), database, collection, nil
}

// Save inserts one document and returns the hex ObjectID.
func (g *MongoGateway) Save(ctx context.Context, obs model.Observation) (string, error) {
	doc := mongoDocument{
		TargetName: obs.TargetName,
		Reachable:  obs.Reachable,
		LatencyMs:  obs.LatencyMs,
		ObservedAt: obs.ObservedAt.UTC(),
	}

	res, err := g.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert observation: %w", err)
	}

	switch id := res.InsertedID.(type) {
	case primitive.ObjectID:
		return id.Hex(), nil
	default:
		return fmt.Sprint(id), nil
	}
}

// ListAll scans the whole collection in natural order.
func (g *MongoGateway) ListAll(ctx context.Context) ([]model.Record, error) {
	cur, err := g.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("scan observations: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	records := []model.Record{}
	for cur.Next(ctx) {
		rec, ok, err := decodeMongoRecord(cur.Current)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("scan observations: %w", err)
	}
	return records, nil
}

// decodeMongoRecord decodes a stored document. Besides the current shape it
// accepts single-target documents {name: {Status, Response_time,
// Last_checked}} found in older collections. Documents of neither shape are
// skipped.
func decodeMongoRecord(raw bson.Raw) (model.Record, bool, error) {
	if _, err := raw.LookupErr("target_name"); err == nil {
		var doc mongoDocument
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return model.Record{}, false, fmt.Errorf("decode observation: %w", err)
		}
		return model.Record{
			ID: doc.ID.Hex(),
			Observation: model.Observation{
				TargetName: doc.TargetName,
				Reachable:  doc.Reachable,
				LatencyMs:  doc.LatencyMs,
				ObservedAt: doc.ObservedAt,
			},
		}, true, nil
	}

	elems, err := raw.Elements()
	if err != nil {
		return model.Record{}, false, fmt.Errorf("decode observation: %w", err)
	}

	var (
		id   string
		name string
		body bson.Raw
	)
	for _, e := range elems {
		if e.Key() == "_id" {
			if oid, ok := e.Value().ObjectIDOK(); ok {
				id = oid.Hex()
			} else {
				id = e.Value().String()
			}
			continue
		}
		doc, ok := e.Value().DocumentOK()
		if !ok || name != "" {
			return model.Record{}, false, nil
		}
		name, body = e.Key(), doc
	}
	if name == "" {
		return model.Record{}, false, nil
	}

	status, ok := body.Lookup("Status").BooleanOK()
	if !ok {
		return model.Record{}, false, nil
	}

	obs := model.Observation{TargetName: name}
	if ms, ok := legacyLatency(body.Lookup("Response_time")); ok && status {
		obs.Reachable = true
		obs.LatencyMs = &ms
	}
	if checked, ok := body.Lookup("Last_checked").StringValueOK(); ok {
		if at, err := time.ParseInLocation(legacyCheckedLayout, checked, time.Local); err == nil {
			obs.ObservedAt = at
		}
	}
	return model.Record{ID: id, Observation: obs}, true, nil
}

func legacyLatency(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeDouble:
		return v.Double(), true
	case bson.TypeInt32:
		return float64(v.Int32()), true
	case bson.TypeInt64:
		return float64(v.Int64()), true
	default:
		return 0, false
	}
}

// Ping checks the primary answers.
func (g *MongoGateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (g *MongoGateway) Close(ctx context.Context) error {
	return g.client.Disconnect(ctx)
}
