package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/joeblew999/plat-webgis/internal/auth"
	"github.com/joeblew999/plat-webgis/internal/layer"
)

// DefaultMongoDatabase is used when no database name is configured.
const DefaultMongoDatabase = "webgis-bpn"

// layerDoc is the document shape of the layers collection. Field names
// match the documents written by the earlier Node.js server, so existing
// databases can be opened as they are.
type layerDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	Type        string             `bson:"type"`
	Tahun       *int               `bson:"tahun,omitempty"`
	Description string             `bson:"description"`
	FilePath    string             `bson:"filePath"`
	FileName    string             `bson:"fileName"`
	FileSize    int64              `bson:"fileSize"`
	CreatedBy   string             `bson:"createdBy"`
	CreatedAt   time.Time          `bson:"createdAt"`
	IsActive    bool               `bson:"isActive"`
	Metadata    struct {
		FeatureCount int        `bson:"featureCount"`
		Bounds       *boundsDoc `bson:"bounds,omitempty"`
	} `bson:"metadata"`
}

type boundsDoc struct {
	Type string    `bson:"type"`
	BBox []float64 `bson:"bbox"`
}

type userDoc struct {
	UID         string    `bson:"uid"`
	Email       string    `bson:"email"`
	DisplayName string    `bson:"displayName"`
	PhotoURL    string    `bson:"photoURL"`
	Role        string    `bson:"role"`
	CreatedAt   time.Time `bson:"createdAt"`
	LastLogin   time.Time `bson:"lastLogin"`
}

// Mongo stores layers in a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	layers *mongo.Collection
	users  *mongo.Collection
}

// OpenMongo connects to uri and uses database name dbName.
func OpenMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo store: uri is required")
	}
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	database := client.Database(dbName)
	return &Mongo{
		client: client,
		layers: database.Collection("layers"),
		users:  database.Collection("users"),
	}, nil
}

// Close disconnects the client.
func (s *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Mongo) Create(ctx context.Context, l *layer.Layer) (string, error) {
	if err := prepareCreate(l, now()); err != nil {
		return "", err
	}

	doc := toLayerDoc(*l)
	doc.ID = primitive.NewObjectID()
	if _, err := s.layers.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("%w: insert layer: %v", layer.ErrStorage, err)
	}
	l.ID = doc.ID.Hex()
	return l.ID, nil
}

func (s *Mongo) List(ctx context.Context, activeOnly bool) ([]layer.Layer, error) {
	filter := bson.M{}
	if activeOnly {
		filter["isActive"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cur, err := s.layers.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list layers: %v", layer.ErrStorage, err)
	}
	var docs []layerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode layers: %v", layer.ErrStorage, err)
	}

	layers := make([]layer.Layer, 0, len(docs))
	for _, d := range docs {
		layers = append(layers, d.toLayer())
	}
	return layers, nil
}

func (s *Mongo) Get(ctx context.Context, id string) (layer.Layer, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return layer.Layer{}, notFound(id)
	}
	var doc layerDoc
	err = s.layers.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return layer.Layer{}, notFound(id)
	}
	if err != nil {
		return layer.Layer{}, fmt.Errorf("%w: get layer: %v", layer.ErrStorage, err)
	}
	return doc.toLayer(), nil
}

func (s *Mongo) Update(ctx context.Context, id string, f layer.Fields) (layer.Layer, error) {
	f, err := f.Normalize()
	if err != nil {
		return layer.Layer{}, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return layer.Layer{}, notFound(id)
	}

	set := bson.M{
		"type": string(f.Type),
		"name": layer.GenerateName(f.Type, f.Year),
	}
	if f.Description != nil {
		set["description"] = *f.Description
	}
	update := bson.M{"$set": set}
	if f.Year != nil {
		set["tahun"] = *f.Year
	} else {
		update["$unset"] = bson.M{"tahun": ""}
	}

	var doc layerDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.layers.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return layer.Layer{}, notFound(id)
	}
	if err != nil {
		return layer.Layer{}, fmt.Errorf("%w: update layer: %v", layer.ErrStorage, err)
	}
	return doc.toLayer(), nil
}

func (s *Mongo) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return notFound(id)
	}
	res, err := s.layers.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("%w: delete layer: %v", layer.ErrStorage, err)
	}
	if res.DeletedCount == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Mongo) Deactivate(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return notFound(id)
	}
	res, err := s.layers.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"isActive": false}})
	if err != nil {
		return fmt.Errorf("%w: deactivate layer: %v", layer.ErrStorage, err)
	}
	if res.MatchedCount == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Mongo) GetUser(ctx context.Context, uid string) (auth.User, bool, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"uid": uid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return auth.User{}, false, nil
	}
	if err != nil {
		return auth.User{}, false, fmt.Errorf("%w: get user: %v", layer.ErrStorage, err)
	}
	return auth.User{
		UID:         doc.UID,
		Email:       doc.Email,
		DisplayName: doc.DisplayName,
		PhotoURL:    doc.PhotoURL,
		Role:        auth.Role(doc.Role),
		CreatedAt:   doc.CreatedAt.UTC(),
		LastLogin:   doc.LastLogin.UTC(),
	}, true, nil
}

func (s *Mongo) SaveUser(ctx context.Context, u auth.User) error {
	doc := userDoc{
		UID:         u.UID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		Role:        string(u.Role),
		CreatedAt:   u.CreatedAt,
		LastLogin:   u.LastLogin,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.users.ReplaceOne(ctx, bson.M{"uid": u.UID}, doc, opts); err != nil {
		return fmt.Errorf("%w: save user: %v", layer.ErrStorage, err)
	}
	return nil
}

func toLayerDoc(l layer.Layer) layerDoc {
	d := layerDoc{
		Name:        l.Name,
		Type:        string(l.Type),
		Tahun:       l.Year,
		Description: l.Description,
		FilePath:    l.FilePath,
		FileName:    l.FileName,
		FileSize:    l.FileSize,
		CreatedBy:   l.CreatedBy,
		CreatedAt:   l.CreatedAt,
		IsActive:    l.IsActive,
	}
	d.Metadata.FeatureCount = l.Metadata.FeatureCount
	if b := l.Metadata.Bounds; b != nil {
		d.Metadata.Bounds = &boundsDoc{Type: b.Type, BBox: b.BBox[:]}
	}
	return d
}

func (d layerDoc) toLayer() layer.Layer {
	l := layer.Layer{
		ID:          d.ID.Hex(),
		Name:        d.Name,
		Type:        layer.Type(d.Type),
		Year:        d.Tahun,
		Description: d.Description,
		FilePath:    d.FilePath,
		FileName:    d.FileName,
		FileSize:    d.FileSize,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt.UTC(),
		IsActive:    d.IsActive,
	}
	l.Metadata.FeatureCount = d.Metadata.FeatureCount
	// Documents written without a box carry bbox: null.
	if b := d.Metadata.Bounds; b != nil && len(b.BBox) == 4 {
		l.Metadata.Bounds = &layer.Bounds{
			Type: b.Type,
			BBox: [4]float64{b.BBox[0], b.BBox[1], b.BBox[2], b.BBox[3]},
		}
	}
	return l
}
