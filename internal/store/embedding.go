package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// EncodeEmbedding serializes a vector as little-endian float32 bytes.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding deserializes little-endian float32 bytes.
func DecodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// StoreEmbedding saves or replaces the embedding for an event.
func (s *Store) StoreEmbedding(eventID int64, vec []float32) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO embeddings (event_id, embedding) VALUES (?, ?)`,
		eventID, EncodeEmbedding(vec),
	)
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// Embedding retrieves the embedding for an event, or nil when absent.
func (s *Store) Embedding(eventID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT embedding FROM embeddings WHERE event_id = ?`, eventID,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return DecodeEmbedding(blob)
}

// EmbeddedVector pairs an event with its stored embedding.
type EmbeddedVector struct {
	EventID   int64
	Timestamp int64
	Text      string
	Vector    []float32
}

// AllEmbeddings returns every stored embedding with its event text.
// The semantic scan walks this set.
func (s *Store) AllEmbeddings() ([]EmbeddedVector, error) {
	rows, err := s.db.Query(`
		SELECT em.event_id, e.timestamp, COALESCE(e.text_content, ''), em.embedding
		FROM embeddings em
		JOIN key_events e ON e.id = em.event_id
		ORDER BY e.timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var vectors []EmbeddedVector
	for rows.Next() {
		var v EmbeddedVector
		var blob []byte
		if err := rows.Scan(&v.EventID, &v.Timestamp, &v.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if v.Vector, err = DecodeEmbedding(blob); err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return vectors, nil
}
