// Package evidence implements the content-addressed evidence store.
//
// Every fetched artifact is written once under raw/{firm}/{kind}/{hash}.{ext}
// and registered in the append-only ledger. Evidence is never updated or
// deleted; a duplicate put of identical bytes is a no-op end to end.
package evidence

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/metrics"
)

const excerptChars = 500

// Store binds a blob backend, the metadata ledger, and the content hasher.
type Store struct {
	blobs  crawl.BlobStore
	ledger crawl.LedgerStore
	hasher crawl.Hasher
	clock  crawl.Clock
	logger *zap.Logger
}

// New constructs a Store.
func New(blobs crawl.BlobStore, ledger crawl.LedgerStore, hasher crawl.Hasher, clock crawl.Clock, logger *zap.Logger) *Store {
	return &Store{
		blobs:  blobs,
		ledger: ledger,
		hasher: hasher,
		clock:  clock,
		logger: logger,
	}
}

// PutResult describes a stored piece of evidence.
type PutResult struct {
	Hash      string
	Path      string
	ObjectURI string
	Inserted  bool
}

// Put hashes data, writes it to the object store, and appends the ledger row.
// The same (firm, key, hash) triple is stored exactly once.
func (s *Store) Put(ctx context.Context, firmID string, kind crawl.Kind, key, sourceURL, contentType string, data []byte, excerpt string) (PutResult, error) {
	if len(data) == 0 {
		return PutResult{}, fmt.Errorf("refusing to store empty evidence for %s/%s", firmID, key)
	}
	hash, err := s.hasher.Hash(data)
	if err != nil {
		return PutResult{}, fmt.Errorf("hash evidence: %w", err)
	}

	path := ObjectPath(firmID, kind, hash, contentType, data)
	uri, err := s.blobs.PutObject(ctx, path, contentType, data)
	if err != nil {
		return PutResult{}, fmt.Errorf("put evidence object: %w", err)
	}

	inserted, err := s.ledger.InsertEvidence(ctx, crawl.EvidenceRecord{
		FirmID:      firmID,
		Key:         key,
		SourceURL:   sourceURL,
		ContentHash: hash,
		ObjectURI:   uri,
		Excerpt:     clipExcerpt(excerpt),
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("insert evidence row: %w", err)
	}
	metrics.ObserveEvidenceWrite(inserted)
	if !inserted {
		s.logger.Debug("evidence already recorded",
			zap.String("firm_id", firmID),
			zap.String("key", key),
			zap.String("hash", hash),
		)
	}
	return PutResult{Hash: hash, Path: path, ObjectURI: uri, Inserted: inserted}, nil
}

// Get retrieves the exact bytes stored under path and verifies them against
// the expected hash. A mismatch means the object store is corrupt.
func (s *Store) Get(ctx context.Context, path, expectedHash string) ([]byte, error) {
	data, err := s.blobs.GetObject(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("get evidence object: %w", err)
	}
	if expectedHash != "" {
		hash, err := s.hasher.Hash(data)
		if err != nil {
			return nil, fmt.Errorf("hash retrieved evidence: %w", err)
		}
		if hash != expectedHash {
			return nil, fmt.Errorf("evidence integrity failure at %s: stored %s, retrieved %s", path, expectedHash, hash)
		}
	}
	return data, nil
}

// ObjectPath derives the content-addressed object key.
func ObjectPath(firmID string, kind crawl.Kind, hash, contentType string, data []byte) string {
	return fmt.Sprintf("raw/%s/%s/%s.%s", firmID, kind, hash, extFor(contentType, data))
}

// extFor picks one of the four canonical extensions from content type or magic bytes.
func extFor(contentType string, data []byte) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf") || bytes.HasPrefix(data, []byte("%PDF")):
		return "pdf"
	case strings.Contains(ct, "json"):
		return "json"
	case strings.Contains(ct, "html") || looksLikeHTML(data):
		return "html"
	default:
		return "bin"
	}
}

func looksLikeHTML(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype html"))
}

func clipExcerpt(excerpt string) string {
	excerpt = strings.TrimSpace(excerpt)
	if utf8.RuneCountInString(excerpt) <= excerptChars {
		return excerpt
	}
	runes := []rune(excerpt)
	return string(runes[:excerptChars])
}
