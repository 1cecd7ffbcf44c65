// Package gormstore persists trees as rows in a relational database (sqlite or postgres) through gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geoforge/revtree/codec"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Max number of ids in a single IN (...) query
const getAllChunkSize = 500

// StoredTree is one persisted tree. Kind, Size and NumTrees duplicate what is in Data, so operators can query them directly.
type StoredTree struct {
	Oid       []byte `gorm:"primaryKey"`
	Data      []byte
	Kind      int
	Size      int64
	NumTrees  int
	CreatedAt time.Time
}

func (StoredTree) TableName() string {
	return "rev_trees"
}

type GormStore struct {
	db *gorm.DB
}

var _ storage.ObjectStore = (*GormStore)(nil)

// NewGormStore migrates the schema and returns a store. The caller owns the db handle; Close does not close it.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&StoredTree{}); err != nil {
		return nil, fmt.Errorf("migrating tree table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	var row StoredTree
	if err := s.db.WithContext(ctx).Where("oid = ?", id.Bytes()).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying tree %s: %w", id, err)
	}
	return codec.Decode(id, row.Data)
}

func (s *GormStore) GetAll(ctx context.Context, ids []model.ObjectId, l storage.BulkListener) ([]*model.RevTree, error) {
	l = storage.ListenerOrNop(l)
	out := make([]*model.RevTree, 0, len(ids))
	found := make(map[model.ObjectId]bool, len(ids))

	for start := 0; start < len(ids); start += getAllChunkSize {
		end := min(start+getAllChunkSize, len(ids))
		keys := make([][]byte, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, id.Bytes())
		}

		var rows []StoredTree
		if err := s.db.WithContext(ctx).Where("oid IN ?", keys).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("querying trees: %w", err)
		}
		for _, row := range rows {
			id, err := model.ObjectIdFromBytes(row.Oid)
			if err != nil {
				return nil, err
			}
			if found[id] {
				continue
			}
			t, err := codec.Decode(id, row.Data)
			if err != nil {
				return nil, fmt.Errorf("decoding tree %s: %w", id, err)
			}
			found[id] = true
			l.Found(id)
			out = append(out, t)
		}
	}

	for _, id := range ids {
		if !found[id] {
			l.NotFound(id)
		}
	}
	return out, nil
}

func (s *GormStore) Put(ctx context.Context, t *model.RevTree) (bool, error) {
	data, err := codec.Encode(t)
	if err != nil {
		return false, err
	}
	row := StoredTree{
		Oid:      t.Id().Bytes(),
		Data:     data,
		Kind:     int(t.Kind()),
		Size:     t.Size(),
		NumTrees: t.NumTrees(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("inserting tree %s: %w", t.Id(), res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Delete(ctx context.Context, id model.ObjectId) (bool, error) {
	res := s.db.WithContext(ctx).Where("oid = ?", id.Bytes()).Delete(&StoredTree{})
	if res.Error != nil {
		return false, fmt.Errorf("deleting tree %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Exists(ctx context.Context, id model.ObjectId) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&StoredTree{}).Where("oid = ?", id.Bytes()).Count(&count).Error; err != nil {
		return false, fmt.Errorf("querying tree %s: %w", id, err)
	}
	return count > 0, nil
}

// Stats summarizes stored trees by kind.
func (s *GormStore) Stats(ctx context.Context) (map[model.TreeKind]int64, error) {
	var rows []struct {
		Kind  int
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&StoredTree{}).Select("kind, count(*) as count").Group("kind").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[model.TreeKind]int64, len(rows))
	for _, r := range rows {
		out[model.TreeKind(r.Kind)] = r.Count
	}
	return out, nil
}

func (s *GormStore) Close() error {
	return nil
}
