// Package mongostore is the document store for analysis results, imported case
// snapshots, the tag vocabulary and aggregation reports.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/aggregation"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/internal/vocabulary"
	"github.com/case-review/backend/pkg/logger"
)

const vocabularyID = "current"

type Store struct {
	analyses   *mongo.Collection
	cases      *mongo.Collection
	vocabulary *mongo.Collection
	reports    *mongo.Collection
}

// Connect dials uri and pings the server before returning.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logger.Info("Connected to MongoDB")
	return client, nil
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		analyses:   db.Collection("case_analyses"),
		cases:      db.Collection("case_snapshots"),
		vocabulary: db.Collection("vocabulary"),
		reports:    db.Collection("reports"),
	}
}

// EnsureIndexes creates the unique case number indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := mongo.IndexModel{
		Keys:    bson.D{{Key: "caseNumber", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	for _, coll := range []*mongo.Collection{s.analyses, s.cases} {
		if _, err := coll.Indexes().CreateOne(ctx, unique); err != nil {
			return fmt.Errorf("failed to index %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, caseNumber string) (bool, error) {
	n, err := s.analyses.CountDocuments(ctx, bson.M{"caseNumber": caseNumber}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Save keeps exactly one analysis per case number.
func (s *Store) Save(ctx context.Context, analysis *models.CaseAnalysis) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.analyses.ReplaceOne(ctx, bson.M{"caseNumber": analysis.CaseNumber}, analysis, opts)
	return err
}

func (s *Store) Load(ctx context.Context, caseNumber string) (*models.CaseAnalysis, error) {
	var analysis models.CaseAnalysis
	err := s.analyses.FindOne(ctx, bson.M{"caseNumber": caseNumber}).Decode(&analysis)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (s *Store) List(ctx context.Context) ([]*models.CaseAnalysis, error) {
	opts := options.Find().SetSort(bson.D{{Key: "caseNumber", Value: 1}})
	cursor, err := s.analyses.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*models.CaseAnalysis
	for cursor.Next(ctx) {
		var a models.CaseAnalysis
		if err := cursor.Decode(&a); err != nil {
			logger.Warn("Skipping undecodable analysis", zap.Error(err))
			continue
		}
		out = append(out, &a)
	}
	return out, cursor.Err()
}

func (s *Store) CaseExists(ctx context.Context, caseNumber string) (bool, error) {
	n, err := s.cases.CountDocuments(ctx, bson.M{"caseNumber": caseNumber}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SaveCase(ctx context.Context, c *models.Case) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.cases.ReplaceOne(ctx, bson.M{"caseNumber": c.CaseNumber}, c, opts)
	return err
}

func (s *Store) GetCase(ctx context.Context, caseNumber string) (*models.Case, error) {
	var c models.Case
	err := s.cases.FindOne(ctx, bson.M{"caseNumber": caseNumber}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type vocabularyDoc struct {
	ID        string    `bson:"_id"`
	OpenTags  []string  `bson:"openTags"`
	CloseTags []string  `bson:"closeTags"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (s *Store) SaveVocabulary(ctx context.Context, openTags, closeTags []string) error {
	doc := vocabularyDoc{ID: vocabularyID, OpenTags: openTags, CloseTags: closeTags, UpdatedAt: time.Now().UTC()}
	opts := options.Replace().SetUpsert(true)
	_, err := s.vocabulary.ReplaceOne(ctx, bson.M{"_id": vocabularyID}, doc, opts)
	return err
}

// VocabularyLoader reads the vocabulary document on every reload.
func (s *Store) VocabularyLoader() vocabulary.Loader {
	return vocabulary.LoaderFunc(func(ctx context.Context) (*vocabulary.Snapshot, error) {
		var doc vocabularyDoc
		err := s.vocabulary.FindOne(ctx, bson.M{"_id": vocabularyID}).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("vocabulary document %q not found", vocabularyID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read vocabulary: %w", err)
		}
		snap := vocabulary.NewSnapshot(doc.OpenTags, doc.CloseTags)
		snap.Source = "mongo"
		return snap, nil
	})
}

type reportDoc struct {
	ID          string                   `bson:"_id"`
	GeneratedAt time.Time                `bson:"generatedAt"`
	TotalCases  int                      `bson:"totalCases"`
	Report      *aggregation.Aggregation `bson:"report"`
}

func (s *Store) SaveReport(ctx context.Context, agg *aggregation.Aggregation) (string, error) {
	doc := reportDoc{
		ID:          uuid.NewString(),
		GeneratedAt: agg.GeneratedAt,
		TotalCases:  agg.TotalCases,
		Report:      agg,
	}
	if _, err := s.reports.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (s *Store) LatestReport(ctx context.Context) (*aggregation.Aggregation, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "generatedAt", Value: -1}})
	var doc reportDoc
	err := s.reports.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Report, nil
}
