package embedding

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("hello world", 10)
	if len(ids) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != defaultCLSID || ids[3] != defaultSEPID {
		t.Errorf("expected CLS at 0 and SEP at 3, got %v", ids)
	}
	if attn[0] != 1 || attn[3] != 1 || attn[4] != 0 {
		t.Errorf("unexpected attention mask %v", attn)
	}
}

func testVocab() map[string]int64 {
	tokens := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "invoice", "total", "un", "##paid", "##s", ",", "due"}
	vocab := make(map[string]int64, len(tokens))
	for i, tok := range tokens {
		vocab[tok] = int64(i)
	}
	return vocab
}

func TestWordPiece_Tokenize(t *testing.T) {
	tok, err := NewWordPiece(testVocab())
	if err != nil {
		t.Fatal(err)
	}
	ids, attn, types := tok.Tokenize("Invoice total, UNPAIDS zzz", 10)
	want := []int64{2, 4, 5, 9, 6, 7, 8, 1, 3, 0}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	wantMask := []int64{1, 1, 1, 1, 1, 1, 1, 1, 1, 0}
	if !reflect.DeepEqual(attn, wantMask) {
		t.Errorf("mask = %v, want %v", attn, wantMask)
	}
	for _, v := range types {
		if v != 0 {
			t.Fatalf("token types should be zero: %v", types)
		}
	}
}

func TestWordPiece_Truncates(t *testing.T) {
	tok, err := NewWordPiece(testVocab())
	if err != nil {
		t.Fatal(err)
	}
	ids, _, _ := tok.Tokenize("invoice total due invoice total due", 4)
	want := []int64{2, 4, 5, 3}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestNewWordPiece_RequiresSpecialTokens(t *testing.T) {
	if _, err := NewWordPiece(map[string]int64{"invoice": 0}); err == nil {
		t.Error("expected error for vocab without special tokens")
	}
}

func TestNewModelTokenizer(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")

	tok, err := NewModelTokenizer(model)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tok.(*SimpleTokenizer); !ok {
		t.Errorf("expected SimpleTokenizer without vocab, got %T", tok)
	}

	vocab := "[PAD]\n[UNK]\n[CLS]\n[SEP]\ninvoice\n"
	if err := os.WriteFile(filepath.Join(dir, "vocab.txt"), []byte(vocab), 0600); err != nil {
		t.Fatal(err)
	}
	tok, err = NewModelTokenizer(model)
	if err != nil {
		t.Fatal(err)
	}
	ids, _, _ := tok.Tokenize("invoice", 4)
	if !reflect.DeepEqual(ids, []int64{2, 4, 3, 0}) {
		t.Errorf("ids = %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b \n c  ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
}
