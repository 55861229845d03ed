package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/metrics"
)

// previewChars bounds raw-output previews carried in audit blocks.
const previewChars = 200

// Config bounds the cost of one extraction run.
type Config struct {
	MaxChunks  int
	ChunkChars int
}

// Pipeline runs chunked model extraction followed by the regex pass.
// A nil client degrades to regex-only operation.
type Pipeline struct {
	cfg    Config
	client *LLMClient
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(cfg Config, client *LLMClient, logger *zap.Logger) *Pipeline {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 4
	}
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = 6000
	}
	return &Pipeline{cfg: cfg, client: client, logger: logger}
}

// Extract produces a record from raw text. It never returns a Go error:
// model parse failures yield a record tagged llm_parse_failed, and the
// regex pass still contributes whatever it can.
func (p *Pipeline) Extract(ctx context.Context, kind crawl.Kind, text string) *Record {
	record := NewRecord(kind)
	record.Audit.TextLength = len(text)
	record.Audit.Model = p.client.ModelName()

	if p.client != nil && strings.TrimSpace(text) != "" {
		p.runModelPasses(ctx, kind, text, record)
	}

	fallback := RegexExtract(kind, strings.ToValidUTF8(text, ""))
	record.Merge(fallback)
	record.Audit.RegexPass = true
	record.Audit.RegexVer = regexVersion

	outcome := "ok"
	if record.Err != "" {
		outcome = record.Err
	} else if !record.Satisfied() {
		outcome = "unsatisfied"
	}
	metrics.ObserveExtraction(string(kind), outcome)
	return record
}

func (p *Pipeline) runModelPasses(ctx context.Context, kind crawl.Kind, text string, record *Record) {
	chunks := chunkText(text, p.cfg.ChunkChars, p.cfg.MaxChunks)
	record.Audit.Chunks = len(chunks)
	system := systemPrompt(kind)

	for i, chunk := range chunks {
		output, err := p.client.Complete(ctx, system, chunk)
		if err != nil {
			p.logger.Warn("model pass failed", zap.String("kind", string(kind)), zap.Int("pass", i), zap.Error(err))
			continue
		}
		record.Audit.Previews = append(record.Audit.Previews, clipPreview(output))

		fields, err := parseModelJSON(kind, output)
		if err != nil {
			record.Err = "llm_parse_failed"
			record.PassesCompleted = i
			record.Audit.Passes = i
			p.logger.Warn("model output was not valid JSON", zap.String("kind", string(kind)), zap.Int("pass", i))
			return
		}
		record.Merge(fields)
		record.PassesCompleted = i + 1
		record.Audit.Passes = i + 1
	}
}

// systemPrompt builds the strict JSON-only instruction for a kind.
func systemPrompt(kind crawl.Kind) string {
	var b strings.Builder
	b.WriteString("You extract facts from a trading firm's web page text. ")
	b.WriteString("Respond with a single JSON object and nothing else. ")
	b.WriteString("Use exactly these keys, null for anything the text does not state, and never invent values:\n")
	for _, def := range schemas[kind] {
		if def.Type == FieldList {
			fmt.Fprintf(&b, "  %q: list\n", def.Name)
		} else {
			fmt.Fprintf(&b, "  %q: string or null\n", def.Name)
		}
	}
	return b.String()
}

// parseModelJSON locates the JSON object in the model output and keeps only
// schema fields. Any other shape is a parse failure.
func parseModelJSON(kind crawl.Kind, output string) (map[string]any, error) {
	trimmed := strings.TrimSpace(output)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal model output: %w", err)
	}

	fields := make(map[string]any, len(raw))
	for _, def := range schemas[kind] {
		if v, ok := raw[def.Name]; ok {
			fields[def.Name] = v
		}
	}
	return fields, nil
}

// chunkText splits on paragraph boundaries where possible, hard-splitting
// oversized paragraphs, up to maxChunks bounded chunks. Text beyond the
// final chunk is dropped.
func chunkText(text string, chunkChars, maxChunks int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		for len(para) > chunkChars {
			flush()
			if len(chunks) >= maxChunks {
				return chunks
			}
			chunks = append(chunks, para[:chunkChars])
			para = para[chunkChars:]
		}
		if current.Len()+len(para)+2 > chunkChars {
			flush()
			if len(chunks) >= maxChunks {
				return chunks
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}
	return chunks
}

func clipPreview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > previewChars {
		return s[:previewChars]
	}
	return s
}
