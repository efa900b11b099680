package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/client"
	"github.com/innovotech/mediadrop/internal/model"
)

var (
	ErrResultNotFound  = errors.New("result not found")
	ErrInvalidResultID = errors.New("invalid result id")
)

var resultIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidResultID reports whether id has the lowercase UUIDv4 shape used for
// result records.
func ValidResultID(id string) bool {
	return resultIDPattern.MatchString(id)
}

// ResultObjectName is the blob name a record with the given id is stored under.
func ResultObjectName(id string) string {
	return fmt.Sprintf("result_%s.json", id)
}

// ResultService persists and retrieves result records on the blob store.
// Records are immutable, so lookups are cached.
type ResultService struct {
	blobs client.BlobStore
	cache *lru.Cache[string, *model.ResultRecord]
	log   zerolog.Logger
}

func NewResultService(blobs client.BlobStore, cacheSize int, log zerolog.Logger) (*ResultService, error) {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, err := lru.New[string, *model.ResultRecord](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &ResultService{
		blobs: blobs,
		cache: cache,
		log:   log.With().Str("component", "results").Logger(),
	}, nil
}

// Create stores record under its deterministic name.
func (s *ResultService) Create(ctx context.Context, record *model.ResultRecord) error {
	if !ValidResultID(record.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidResultID, record.ID)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	url, err := s.blobs.Put(ctx, ResultObjectName(record.ID), data, client.PutOptions{
		ContentType: "application/json",
		Public:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	s.cache.Add(record.ID, record)
	s.log.Info().Str("id", record.ID).Str("url", url).Msg("result stored")
	return nil
}

// Get returns the record stored for id. Malformed ids are rejected before
// the store is touched. The returned record must not be modified.
func (s *ResultService) Get(ctx context.Context, id string) (*model.ResultRecord, error) {
	if !ValidResultID(id) {
		return nil, ErrInvalidResultID
	}
	if record, ok := s.cache.Get(id); ok {
		return record, nil
	}

	name := ResultObjectName(id)
	blobs, err := s.blobs.List(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	found := false
	for _, b := range blobs {
		if b.Name == name {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrResultNotFound
	}

	data, err := s.blobs.Get(ctx, name)
	if err != nil {
		if errors.Is(err, client.ErrBlobNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to fetch result: %w", err)
	}

	var record model.ResultRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	s.cache.Add(id, &record)
	return &record, nil
}
