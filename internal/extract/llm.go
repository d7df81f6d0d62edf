package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicdata/comune-cli/internal/catalog"
	"github.com/civicdata/comune-cli/internal/model"
	"github.com/civicdata/comune-cli/pkg/anthropic"
)

const (
	llmMaxChunkChars = 6000
	llmCacheKeyChars = 1000
	llmMaxTokens     = 512
)

const llmSystemPrompt = `Sei un estrattore di dati da documenti comunali italiani.
Dato un estratto di documento, un indicatore e un anno di riferimento, trova il valore numerico dell'indicatore per quell'anno.
Rispondi SOLO con un oggetto JSON:
{"value": <numero>, "unit": "<'%', 'currency' o ''>", "year": <anno del valore o 0>, "evidence": "<citazione breve>", "confidence": <0..1>}
Se il valore non è presente nell'estratto, usa "confidence": 0.`

// llmPayload is what gets cached per request key: the parsed model output,
// or an explicit no-match marker when the model found nothing.
type llmPayload struct {
	NoMatch    bool    `json:"no_match,omitempty"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Year       int     `json:"year"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
}

// LLMStrategy extracts values through a structured-output model call.
// Responses are cached in the catalog keyed by (text prefix, indicator,
// year, model), so re-runs never repeat a call. maxDocs bounds how many
// distinct documents may trigger fresh model calls in one run; cache hits
// are always free.
type LLMStrategy struct {
	client    anthropic.Client
	cache     catalog.LLMCache
	modelName string
	threshold float64
	timeout   time.Duration
	maxDocs   int

	mu   sync.Mutex
	seen map[string]bool // content hashes that spent budget
}

func NewLLM(client anthropic.Client, cache catalog.LLMCache, modelName string, threshold float64, timeout time.Duration, maxDocs int) *LLMStrategy {
	return &LLMStrategy{
		client:    client,
		cache:     cache,
		modelName: modelName,
		threshold: threshold,
		timeout:   timeout,
		maxDocs:   maxDocs,
		seen:      make(map[string]bool),
	}
}

// spendBudget reserves a model call for the document. False means the
// per-run document budget is exhausted.
func (s *LLMStrategy) spendBudget(contentHash string) bool {
	if s.maxDocs <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[contentHash] {
		return true
	}
	if len(s.seen) >= s.maxDocs {
		return false
	}
	s.seen[contentHash] = true
	return true
}

func (s *LLMStrategy) Name() model.Method { return model.MethodLLM }

// Attempt asks the model for a structured extraction. The response is
// accepted only when its confidence clears the strategy threshold and the
// extracted year, when present, equals the requested year; anything else is
// an explicit no-match.
func (s *LLMStrategy) Attempt(ctx context.Context, chunk model.Chunk, indicator string, year int) (*model.Result, error) {
	text := truncateBytes(chunk.Text, llmMaxChunkChars)

	key := s.requestKey(text, indicator, year)
	payload, err := s.cachedPayload(ctx, key)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		if !s.spendBudget(chunk.ContentHash) {
			return nil, nil
		}
		payload, err = s.call(ctx, text, indicator, year)
		if err != nil {
			return nil, err
		}
		if err := s.storePayload(ctx, key, payload); err != nil {
			zap.L().Warn("llm cache write failed", zap.Error(err))
		}
	}

	return s.validate(payload, chunk, year), nil
}

// validate applies the acceptance gates to a raw payload.
func (s *LLMStrategy) validate(p *llmPayload, chunk model.Chunk, year int) *model.Result {
	if p.NoMatch || p.Confidence < s.threshold {
		return nil
	}
	if p.Year != 0 && p.Year != year {
		return nil
	}

	evidence := truncateBytes(p.Evidence, evidenceLimit)
	return &model.Result{
		Value:       p.Value,
		Unit:        parseUnit(p.Unit),
		Year:        year,
		Evidence:    evidence,
		Confidence:  p.Confidence,
		Method:      model.MethodLLM,
		ContentHash: chunk.ContentHash,
		PageNo:      chunk.PageNo,
		OriginURL:   chunk.OriginURL,
		Filename:    chunk.Filename,
	}
}

func (s *LLMStrategy) call(ctx context.Context, text, indicator string, year int) (*llmPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Indicatore: %s\nAnno richiesto: %d\n\nEstratto:\n%s", indicator, year, text)
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.modelName,
		MaxTokens: llmMaxTokens,
		System:    llmSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: llm call")
	}
	resp.Usage.LogCost(s.modelName, "extract")

	payload, err := parseLLMResponse(resp.Text)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// parseLLMResponse pulls the JSON object out of the model's reply, tolerating
// markdown fences.
func parseLLMResponse(text string) (*llmPayload, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("extract: llm reply has no JSON object: %q", truncate(text, 120))
	}

	var p llmPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, eris.Wrap(err, "extract: parse llm reply")
	}
	if p.Confidence == 0 {
		p.NoMatch = true
	}
	return &p, nil
}

func (s *LLMStrategy) requestKey(text, indicator string, year int) string {
	prefix := text
	if len(prefix) > llmCacheKeyChars {
		prefix = prefix[:llmCacheKeyChars]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", prefix, indicator, year, s.modelName)))
	return hex.EncodeToString(sum[:])
}

func (s *LLMStrategy) cachedPayload(ctx context.Context, key string) (*llmPayload, error) {
	data, err := s.cache.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	var p llmPayload
	if err := json.Unmarshal(data, &p); err != nil {
		zap.L().Warn("llm cache entry unreadable, ignoring", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &p, nil
}

func (s *LLMStrategy) storePayload(ctx context.Context, key string, p *llmPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "extract: marshal llm payload")
	}
	return s.cache.Put(ctx, key, key, data)
}

func parseUnit(u string) model.Unit {
	switch strings.ToLower(strings.TrimSpace(u)) {
	case "%", "percent", "percentuale":
		return model.UnitPercent
	case "currency", "eur", "euro", "€":
		return model.UnitCurrency
	default:
		return model.UnitNone
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return truncateBytes(s, n) + "..."
}

// truncateBytes shortens s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
