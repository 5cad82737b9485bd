// Package mockclassifier provides deterministic Classifier stand-ins for
// tests: a fixed answer, a lookup table keyed by item value, or a
// persistent failure, without touching the network.
package mockclassifier

import (
	"context"

	"github.com/thalamusdb/thalamusdb/internal/llmclient"
)

// Constant always returns Decision for every call and reports one prompt
// token and one completion token, matching a single decision-token
// response.
type Constant struct {
	Decision int
}

func (c Constant) Classify(ctx context.Context, condition string, item llmclient.Item) (int, int, int, error) {
	return c.Decision, 1, 1, nil
}

func (c Constant) ClassifyPair(ctx context.Context, condition string, left, right llmclient.Item) (int, int, int, error) {
	return c.Decision, 1, 1, nil
}

// ByText decides based on the item's text value, falling back to Default
// when the value is not in Decisions. Useful for tests where different
// rows should be classified differently.
type ByText struct {
	Decisions map[string]int
	Default   int
}

func (b ByText) Classify(ctx context.Context, condition string, item llmclient.Item) (int, int, int, error) {
	if d, ok := b.Decisions[item.Text]; ok {
		return d, 1, 1, nil
	}
	return b.Default, 1, 1, nil
}

func (b ByText) ClassifyPair(ctx context.Context, condition string, left, right llmclient.Item) (int, int, int, error) {
	key := left.Text + "|" + right.Text
	if d, ok := b.Decisions[key]; ok {
		return d, 1, 1, nil
	}
	return b.Default, 1, 1, nil
}

// Failing always returns an error, simulating a classifier that never
// produces a parseable decision, used to exercise the operator's bounded
// retry and the engine's non-progressing-iteration path.
type Failing struct {
	Err error
}

func (f Failing) Classify(ctx context.Context, condition string, item llmclient.Item) (int, int, int, error) {
	return 0, 0, 0, f.Err
}

func (f Failing) ClassifyPair(ctx context.Context, condition string, left, right llmclient.Item) (int, int, int, error) {
	return 0, 0, 0, f.Err
}
