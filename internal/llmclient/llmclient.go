// Package llmclient implements the LLM classifier contract ThalamusDB's
// semantic operators depend on: given a natural-language condition and one
// or two items (text or image bytes), return a 0/1 decision plus token
// usage. The production implementation targets the Gemini API through
// google.golang.org/genai; internal/llmclient/mockclassifier provides a
// deterministic stand-in for tests.
package llmclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/thalamusdb/thalamusdb/internal/tdberr"
)

// Item is one value passed to the classifier: either UTF-8 text or
// base64-ready image bytes with a MIME type.
type Item struct {
	Text string
	MIME string
	Data []byte
}

// TextItem wraps a plain-text value.
func TextItem(text string) Item { return Item{Text: text} }

// ImageItem wraps raw image bytes with their MIME type.
func ImageItem(mime string, data []byte) Item { return Item{MIME: mime, Data: data} }

// IsImage reports whether the item carries image bytes rather than text.
func (it Item) IsImage() bool { return len(it.Data) > 0 }

// Classifier is the LLM contract every semantic operator depends on.
// ClassifyPair exists for Join operators, which must show the model two
// items under one condition; Classify is the Unary-filter single-item
// form.
type Classifier interface {
	Classify(ctx context.Context, condition string, item Item) (decision, promptTokens, completionTokens int, err error)
	ClassifyPair(ctx context.Context, condition string, left, right Item) (decision, promptTokens, completionTokens int, err error)
}

const question = "Does the following item satisfy the condition %q? Answer with 1 for yes, 0 for no."

const pairQuestion = "Do the following two items satisfy the condition %q? Answer with 1 for yes, 0 for no."

// GeminiClassifier implements Classifier against the Gemini API.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClassifier builds a GeminiClassifier authenticated with apiKey,
// using model for every classification call (e.g. "gemini-2.5-flash").
func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, tdberr.NewLLMError("failed to create Gemini client", err, false)
	}
	return &GeminiClassifier{client: client, model: model}, nil
}

// Classify asks the model whether item satisfies condition.
func (g *GeminiClassifier) Classify(ctx context.Context, condition string, item Item) (int, int, int, error) {
	parts := []*genai.Part{genai.NewPartFromText(fmt.Sprintf(question, condition))}
	parts = append(parts, itemPart(item))
	return g.generate(ctx, parts)
}

// ClassifyPair asks the model whether the pair (left, right) satisfies
// condition, used by the Join operator.
func (g *GeminiClassifier) ClassifyPair(ctx context.Context, condition string, left, right Item) (int, int, int, error) {
	parts := []*genai.Part{genai.NewPartFromText(fmt.Sprintf(pairQuestion, condition))}
	parts = append(parts, itemPart(left), itemPart(right))
	return g.generate(ctx, parts)
}

func itemPart(item Item) *genai.Part {
	if item.IsImage() {
		return genai.NewPartFromBytes(item.Data, item.MIME)
	}
	return genai.NewPartFromText(item.Text)
}

func (g *GeminiClassifier) generate(ctx context.Context, parts []*genai.Part) (int, int, int, error) {
	content := genai.NewContentFromParts(parts, genai.RoleUser)
	temperature := float32(0)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: 1,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{content}, cfg)
	if err != nil {
		return 0, 0, 0, tdberr.NewLLMError("gemini classify call failed", err, true)
	}

	promptTokens, completionTokens := 0, 0
	if resp.UsageMetadata != nil {
		promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	decision, err := parseDecision(resp.Text())
	if err != nil {
		return 0, promptTokens, completionTokens, err
	}
	return decision, promptTokens, completionTokens, nil
}

func parseDecision(text string) (int, error) {
	text = strings.TrimSpace(text)
	n, err := strconv.Atoi(text)
	if err != nil || (n != 0 && n != 1) {
		return 0, tdberr.NewLLMError(fmt.Sprintf("unparseable decision token %q", text), nil, true)
	}
	return n, nil
}
