package embedding

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
// Every slice has length maxTokens; unused positions are padding with mask 0.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsToken = "[CLS]"
	sepToken = "[SEP]"
	padToken = "[PAD]"
	unkToken = "[UNK]"

	// Default BERT uncased vocabulary IDs.
	defaultCLSID = 101
	defaultSEPID = 102

	maxWordPieceChars = 100
)

// NewModelTokenizer returns a WordPiece tokenizer for the vocab.txt next to
// modelPath, or a SimpleTokenizer when there is none.
func NewModelTokenizer(modelPath string) (Tokenizer, error) {
	vocabPath := filepath.Join(filepath.Dir(modelPath), "vocab.txt")
	if _, err := os.Stat(vocabPath); err != nil {
		if os.IsNotExist(err) {
			return &SimpleTokenizer{}, nil
		}
		return nil, err
	}
	return LoadWordPiece(vocabPath)
}

// WordPieceTokenizer implements BERT uncased tokenization: lowercase, split on
// whitespace and punctuation, then greedy longest-match subwords.
type WordPieceTokenizer struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	pad   int64
	unk   int64
}

// LoadWordPiece reads a vocab.txt with one token per line; the line number is the ID.
func LoadWordPiece(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", path, err)
	}
	return NewWordPiece(vocab)
}

// NewWordPiece builds a tokenizer over vocab, which must hold the BERT special tokens.
func NewWordPiece(vocab map[string]int64) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{vocab: vocab}
	for tok, dst := range map[string]*int64{clsToken: &t.cls, sepToken: &t.sep, padToken: &t.pad, unkToken: &t.unk} {
		id, ok := vocab[tok]
		if !ok {
			return nil, fmt.Errorf("vocab is missing %s", tok)
		}
		*dst = id
	}
	return t, nil
}

// Tokenize encodes text as [CLS] pieces... [SEP], truncated to maxTokens.
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 2
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)
	for i := range inputIDs {
		inputIDs[i] = t.pad
	}

	inputIDs[0], attentionMask[0] = t.cls, 1
	pos := 1
	for _, word := range basicTokens(text) {
		for _, id := range t.pieces(word) {
			if pos >= maxTokens-1 {
				break
			}
			inputIDs[pos], attentionMask[pos] = id, 1
			pos++
		}
	}
	inputIDs[pos], attentionMask[pos] = t.sep, 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// pieces splits one basic token into vocabulary IDs.
func (t *WordPieceTokenizer) pieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordPieceChars {
		return []int64{t.unk}
	}
	var ids []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		var id int64
		found := false
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if v, ok := t.vocab[sub]; ok {
				id, found = v, true
				break
			}
		}
		if !found {
			return []int64{t.unk}
		}
		ids = append(ids, id)
		start = end
	}
	return ids
}

// basicTokens lowercases text and splits it on whitespace, keeping each
// punctuation rune as its own token. Control characters are dropped.
func basicTokens(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs, used
// when a model ships without a vocabulary.
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0], attentionMask[0] = defaultCLSID, 1
	pos := 1
	for _, word := range SplitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos], attentionMask[pos] = int64(HashString(word)%30000), 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos], attentionMask[pos] = defaultSEPID, 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on whitespace and returns non-empty words, or nil.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
