package tinyformer

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Example is one labeled text.
type Example struct {
	Text  string
	Label int
}

// Dataset holds labeled examples for classification.
type Dataset struct {
	Examples []Example
}

// LoadTSV reads a dataset from a tab-separated file with one example per
// line: the numeric label, a tab, then the text. Blank lines and lines
// starting with '#' are skipped.
func LoadTSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds := &Dataset{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		label, text, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("line %d: expected <label>\\t<text>", lineNum)
		}

		labelID, err := strconv.Atoi(strings.TrimSpace(label))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad label %q: %w", lineNum, label, err)
		}
		if labelID < 0 {
			return nil, fmt.Errorf("line %d: label must be non-negative, got %d", lineNum, labelID)
		}

		ds.Examples = append(ds.Examples, Example{Text: text, Label: labelID})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if len(ds.Examples) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}

	return ds, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Examples)
}

// NumClasses returns one more than the highest label seen.
func (d *Dataset) NumClasses() int {
	max := -1
	for _, ex := range d.Examples {
		if ex.Label > max {
			max = ex.Label
		}
	}
	return max + 1
}

// Shuffle permutes the examples in place.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.Examples), func(i, j int) {
		d.Examples[i], d.Examples[j] = d.Examples[j], d.Examples[i]
	})
}

// Split partitions the dataset into training and validation parts. The last
// valFraction of examples becomes validation; shuffle first for a random
// split.
func (d *Dataset) Split(valFraction float64) (train, val *Dataset) {
	if valFraction < 0 || valFraction >= 1 {
		panic(fmt.Sprintf("validation fraction must be in [0, 1), got %g", valFraction))
	}
	cut := len(d.Examples) - int(float64(len(d.Examples))*valFraction)
	return &Dataset{Examples: d.Examples[:cut]}, &Dataset{Examples: d.Examples[cut:]}
}

// encodingCache memoizes tokenizer output keyed by a hash of the text, so
// repeated epochs do not re-tokenize every example.
type encodingCache struct {
	mu      sync.RWMutex
	entries map[uint64][]int
}

func newEncodingCache() *encodingCache {
	return &encodingCache{entries: make(map[uint64][]int)}
}

func (c *encodingCache) get(text string) ([]int, bool) {
	key := xxhash.Sum64String(text)
	c.mu.RLock()
	ids, ok := c.entries[key]
	c.mu.RUnlock()
	return ids, ok
}

func (c *encodingCache) put(text string, ids []int) {
	key := xxhash.Sum64String(text)
	c.mu.Lock()
	c.entries[key] = ids
	c.mu.Unlock()
}
