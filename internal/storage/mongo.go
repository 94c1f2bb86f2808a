// Package storage persists compression records in MongoDB and caches
// compression results in Redis.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/Brownie44l1/neucomp/internal/config"
)

// ErrDisabled is returned by stores that have no backend configured.
var ErrDisabled = errors.New("storage is not configured")

// Record is one persisted compression.
type Record struct {
	ID                 bson.ObjectId `bson:"_id" json:"id"`
	Filename           string        `bson:"filename" json:"filename"`
	OriginalName       string        `bson:"originalName" json:"original_name"`
	CompressedFilename string        `bson:"compressedFilename" json:"compressed_filename"`
	Model              string        `bson:"model" json:"model"`
	Quality            int           `bson:"quality" json:"quality"`
	BPP                float64       `bson:"bpp" json:"bpp"`
	PSNR               float64       `bson:"psnr" json:"psnr"`
	SSIM               float64       `bson:"ssim" json:"ssim"`
	MSSSIM             float64       `bson:"msSsim" json:"ms_ssim"`
	Measured           bool          `bson:"measured" json:"measured"`
	State              string        `bson:"state" json:"state"`
	OriginalSize       int64         `bson:"originalSize" json:"original_size"`
	CompressedSize     int64         `bson:"compressedSize" json:"compressed_size"`
	CreatedAt          time.Time     `bson:"createdAt" json:"created_at"`
}

// MongoStore keeps records in one MongoDB collection. The connection is
// dialed on first use and every operation works on a cloned session.
type MongoStore struct {
	uri      string
	dbname   string
	collname string
	timeout  time.Duration

	mu      sync.Mutex
	session *mgo.Session
}

// NewMongoStore returns a store for cfg; an empty URI yields a store whose
// operations return ErrDisabled.
func NewMongoStore(cfg config.MongoConfig) *MongoStore {
	return &MongoStore{
		uri:      cfg.URI,
		dbname:   cfg.Database,
		collname: cfg.Collection,
		timeout:  5 * time.Second,
	}
}

// Enabled reports whether a MongoDB URI is configured.
func (m *MongoStore) Enabled() bool {
	return m.uri != ""
}

func (m *MongoStore) connect() (*mgo.Session, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		s, err := mgo.DialWithTimeout(m.uri, m.timeout)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
		}
		s.SetMode(mgo.Strong, true)
		m.session = s
	}
	return m.session.Clone(), nil
}

// Ping checks the connection.
func (m *MongoStore) Ping() error {
	s, err := m.connect()
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Ping()
}

// Insert stores rec and returns its id in hex form. ID and CreatedAt are
// filled in when empty.
func (m *MongoStore) Insert(rec *Record) (string, error) {
	s, err := m.connect()
	if err != nil {
		return "", err
	}
	defer s.Close()

	if rec.ID == "" {
		rec.ID = bson.NewObjectId()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.DB(m.dbname).C(m.collname).Insert(rec); err != nil {
		return "", fmt.Errorf("failed to insert record %s: %w", rec.Filename, err)
	}
	return rec.ID.Hex(), nil
}

// Records returns up to limit records, newest first. A non-positive limit
// returns every record.
func (m *MongoStore) Records(limit int) ([]Record, error) {
	out := []Record{}
	s, err := m.connect()
	if err != nil {
		return out, err
	}
	defer s.Close()

	q := s.DB(m.dbname).C(m.collname).Find(bson.M{}).Sort("-createdAt")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.All(&out); err != nil {
		return out, fmt.Errorf("unable to get records: %w", err)
	}
	return out, nil
}

// Close releases the connection.
func (m *MongoStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
}
