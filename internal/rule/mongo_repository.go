package rule

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"halia/internal/constants"
	"halia/pkg/metrics"
)

// ruleDocument is the stored form. The graph is kept as its JSON text so
// node confs round-trip byte for byte.
type ruleDocument struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Graph       string    `bson:"graph"`
	On          bool      `bson:"on"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toDocument(rule *Rule) (*ruleDocument, error) {
	graphJSON, err := json.Marshal(rule.Graph)
	if err != nil {
		return nil, err
	}
	return &ruleDocument{
		ID:          rule.ID,
		Name:        rule.Name,
		Description: rule.Description,
		Graph:       string(graphJSON),
		On:          rule.On,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   rule.UpdatedAt,
	}, nil
}

func (d *ruleDocument) rule() (*Rule, error) {
	rule := &Rule{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		On:          d.On,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(d.Graph), &rule.Graph); err != nil {
		return nil, fmt.Errorf("rule %s has a corrupt graph: %w", d.ID, err)
	}
	return rule, nil
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection(constants.MongoRulesCollection)}
}

func observeMongo(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery("mongodb", operation, status, time.Since(start))
}

func (r *MongoRepository) Create(ctx context.Context, rule *Rule) (err error) {
	defer observeMongo("create_rule", time.Now(), &err)
	prepareNew(rule)

	doc, err := toDocument(rule)
	if err != nil {
		return storageError("encode rule graph", err)
	}
	if _, err = r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nameConflict(rule.Name, err)
		}
		return storageError("create rule", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (rule *Rule, err error) {
	defer observeMongo("get_rule", time.Now(), &err)

	var doc ruleDocument
	err = r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storageError("get rule", err)
	}
	rule, err = doc.rule()
	if err != nil {
		return nil, storageError("decode rule", err)
	}
	return rule, nil
}

func (r *MongoRepository) Update(ctx context.Context, rule *Rule) (err error) {
	defer observeMongo("update_rule", time.Now(), &err)
	rule.UpdatedAt = time.Now().UTC()

	doc, err := toDocument(rule)
	if err != nil {
		return storageError("encode rule graph", err)
	}
	update := bson.M{"$set": bson.M{
		"name":        doc.Name,
		"description": doc.Description,
		"graph":       doc.Graph,
		"on":          doc.On,
		"updated_at":  doc.UpdatedAt,
	}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": rule.ID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nameConflict(rule.Name, err)
		}
		return storageError("update rule", err)
	}
	if result.MatchedCount == 0 {
		return notFound(rule.ID)
	}
	return nil
}

func (r *MongoRepository) SetOn(ctx context.Context, id string, on bool) (err error) {
	defer observeMongo("set_rule_on", time.Now(), &err)
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"on": on}})
	if err != nil {
		return storageError("update rule state", err)
	}
	if result.MatchedCount == 0 {
		return notFound(id)
	}
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) (err error) {
	defer observeMongo("delete_rule", time.Now(), &err)
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storageError("delete rule", err)
	}
	if result.DeletedCount == 0 {
		return notFound(id)
	}
	return nil
}

func searchFilter(q SearchQuery) bson.M {
	filter := bson.M{}
	if q.Name != "" {
		filter["name"] = bson.M{"$regex": regexp.QuoteMeta(q.Name), "$options": "i"}
	}
	if q.On != nil {
		filter["on"] = *q.On
	}
	return filter
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}

func (r *MongoRepository) Search(ctx context.Context, q SearchQuery) (rules []Rule, total int, err error) {
	defer observeMongo("search_rules", time.Now(), &err)

	filter := searchFilter(q)
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, storageError("count rules", err)
	}

	opts := options.Find().
		SetSort(newestFirst).
		SetSkip(int64(offset(q))).
		SetLimit(int64(q.Size))
	rules, err = r.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return rules, int(count), nil
}

func (r *MongoRepository) ListOn(ctx context.Context) (rules []Rule, err error) {
	defer observeMongo("list_rules_on", time.Now(), &err)
	return r.find(ctx, bson.M{"on": true}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Rule, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageError("list rules", err)
	}
	defer cursor.Close(ctx)

	var docs []ruleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageError("decode rules", err)
	}
	rules := make([]Rule, 0, len(docs))
	for i := range docs {
		rule, err := docs[i].rule()
		if err != nil {
			return nil, storageError("decode rule", err)
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

func (r *MongoRepository) Count(ctx context.Context) (total, on int, err error) {
	defer observeMongo("count_rules", time.Now(), &err)
	all, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, 0, storageError("count rules", err)
	}
	enabled, err := r.collection.CountDocuments(ctx, bson.M{"on": true})
	if err != nil {
		return 0, 0, storageError("count rules", err)
	}
	return int(all), int(enabled), nil
}
