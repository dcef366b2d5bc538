// Package mongoarchive mirrors closed runs' event logs into MongoDB for
// long-term analytics and audit, independent of the per-run JSONL files that
// remain the source of truth during execution. It implements event.Sink,
// following the same document shape, index-on-startup, and narrow
// collection interface for testability that a Mongo-backed run log archive
// typically uses, built against go.mongodb.org/mongo-driver/v2, the
// version this module declares.
package mongoarchive

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/sprintfoundry/orchestrator/internal/core/event"
	"github.com/sprintfoundry/orchestrator/internal/core/telemetry"
)

const (
	defaultCollection = "run_events"
	defaultTimeout    = 5 * time.Second
)

// collection narrows *mongo.Collection to what Sink needs, so tests can
// substitute a fake without a live MongoDB connection.
type collection interface {
	InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}

// Sink archives event.Event values into a MongoDB collection.
type Sink struct {
	coll    collection
	log     telemetry.Logger
	timeout time.Duration
}

// Options configures Sink.
type Options struct {
	// Client is the MongoDB connection used to persist events. Required.
	Client *mongodriver.Client
	// Database names the target database. Required.
	Database string
	// Collection names the target collection. Defaults to "run_events".
	Collection string
	// Timeout bounds each InsertOne/index call. Defaults to 5s.
	Timeout time.Duration
	// Log receives Mirror failures. May be nil.
	Log telemetry.Logger
}

type eventDocument struct {
	RunID      string    `bson:"run_id"`
	Type       string    `bson:"type"`
	StepNumber int       `bson:"step_number,omitempty"`
	Payload    bson.Raw  `bson:"payload,omitempty"`
	Timestamp  time.Time `bson:"timestamp"`
}

// New constructs a Sink and ensures its run_id+timestamp index exists.
// Client and Database are required.
func New(ctx context.Context, opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("mongoarchive: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongoarchive: database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(coll)
	return newSinkWithCollection(ctx, mongoCollection{coll: mcoll}, timeout, opts.Log)
}

func newSinkWithCollection(ctx context.Context, coll collection, timeout time.Duration, log telemetry.Logger) (*Sink, error) {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	indexCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureIndexes(indexCtx, coll); err != nil {
		return nil, err
	}
	return &Sink{coll: coll, log: log, timeout: timeout}, nil
}

func ensureIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return err
}

// Mirror implements event.Sink. Insert failures are logged, never returned:
// an archival write must never gate the run it describes.
func (s *Sink) Mirror(ctx context.Context, e event.Event) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := eventDocument{
		RunID:      e.RunID,
		Type:       e.Type,
		StepNumber: e.StepNumber,
		Timestamp:  e.Timestamp,
	}
	if len(e.Payload) > 0 {
		doc.Payload = bson.Raw(e.Payload)
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		s.log.Error(ctx, "mongoarchive: insert event failed", "error", err, "run_id", e.RunID)
	}
}
