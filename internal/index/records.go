package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"strconv"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// maxRecordSize bounds a single chunks.jsonl line.
const maxRecordSize = 16 * 1024 * 1024

// chunkRecord is the wire form of one chunks.jsonl line. Metadata values
// written by other tools may be numbers or booleans; they are read back
// as their JSON text.
type chunkRecord struct {
	ID       string         `json:"chunk_id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// writeChunks writes one JSON object per chunk. encoding/json emits map
// keys sorted, so metadata order is stable.
func writeChunks(path string, chunks iter.Seq[chunk.Chunk]) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to create chunk records", err).
			WithDetail("path", path)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for c := range chunks {
		meta := c.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		rec := struct {
			ID       string            `json:"chunk_id"`
			Text     string            `json:"text"`
			Metadata map[string]string `json:"metadata"`
		}{c.ID, c.Text, meta}
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return errors.New(errors.ErrCodeIndexFailed, "failed to encode chunk record", err).
				WithDetail("path", path).
				WithDetail("chunk_id", c.ID)
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.New(errors.ErrCodeIndexFailed, "failed to write chunk records", err).
			WithDetail("path", path)
	}
	if err := f.Close(); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to close chunk records", err).
			WithDetail("path", path)
	}
	return nil
}

// readChunks reads chunks.jsonl in line order. Blank lines are skipped.
func readChunks(path string) ([]chunk.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "chunk records missing", err).
				WithDetail("path", path)
		}
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to open chunk records", err).
			WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	var chunks []chunk.Chunk
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var rec chunkRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "invalid chunk record", err).
				WithDetail("path", path).
				WithDetail("line", strconv.Itoa(line))
		}
		if rec.ID == "" {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "chunk record without chunk_id", nil).
				WithDetail("path", path).
				WithDetail("line", strconv.Itoa(line))
		}

		chunks = append(chunks, chunk.Chunk{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: stringifyMetadata(rec.Metadata),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "failed to read chunk records", err).
			WithDetail("path", path)
	}

	return chunks, nil
}

func stringifyMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			data, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprint(val)
				continue
			}
			out[k] = string(data)
		}
	}
	return out
}
