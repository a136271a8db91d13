package jsonfile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
)

func collect(t *testing.T, ctx context.Context, input string) ([]document.Record, error) {
	t.Helper()
	var got []document.Record
	_, err := StreamDocuments(ctx, strings.NewReader(input), func(r document.Record) error {
		got = append(got, r)
		return nil
	})
	return got, err
}

func TestStreamDocuments_RootArrayAndTrailingJSONL(t *testing.T) {
	t.Parallel()

	// Contract:
	//   - each object in the root array is one document
	//   - null elements are skipped
	//   - objects after the closing ']' are further documents
	//   - "_id" is dropped
	input := `[
		{"_id": "65f0", "customer_id": 1, "age": 30},
		null,
		{"customer_id": 2, "income": 12.5}
	]
	{"customer_id": 3, "tags": ["a", "b"]}`

	docs, err := collect(t, context.Background(), input)
	if err != nil {
		t.Fatalf("StreamDocuments() err=%v, want nil", err)
	}
	if len(docs) != 3 {
		t.Fatalf("docs.len=%d, want 3", len(docs))
	}
	if _, ok := docs[0]["_id"]; ok {
		t.Fatalf("docs[0] kept _id")
	}
	if got := docs[0]["age"]; got != document.Int(30) {
		t.Fatalf("docs[0].age=%#v, want Int(30)", got)
	}
	if got := docs[1]["income"]; got != document.Float(12.5) {
		t.Fatalf("docs[1].income=%#v, want Float(12.5)", got)
	}
	arr, ok := docs[2]["tags"].(document.Array)
	if !ok || len(arr) != 2 {
		t.Fatalf("docs[2].tags=%#v, want 2-element array", docs[2]["tags"])
	}
}

func TestStreamDocuments_EnvelopeStreamsFirstArrayField(t *testing.T) {
	t.Parallel()

	input := `{
		"meta": {"ignore": [1,2,3]},
		"documents": [{"loan_id": 1}, {"loan_id": 2}],
		"other": {"deep": [{"k": "v"}], "n": 10}
	}
	{"loan_id": 3}`

	docs, err := collect(t, context.Background(), input)
	if err != nil {
		t.Fatalf("StreamDocuments() err=%v, want nil", err)
	}
	if len(docs) != 3 {
		t.Fatalf("docs.len=%d, want 3", len(docs))
	}
	for i, d := range docs {
		if got, want := d["loan_id"], document.Int(int64(i+1)); got != want {
			t.Fatalf("docs[%d].loan_id=%#v, want %#v", i, got, want)
		}
	}
}

func TestStreamDocuments_SingleObjectKeepsNesting(t *testing.T) {
	t.Parallel()

	input := `{"restructuring_id": 7, "new_loan_terms": {"interest_rate": 5, "repayment_period_in_months": 36}}`

	docs, err := collect(t, context.Background(), input)
	if err != nil {
		t.Fatalf("StreamDocuments() err=%v, want nil", err)
	}
	if len(docs) != 1 {
		t.Fatalf("docs.len=%d, want 1", len(docs))
	}
	terms, ok := docs[0]["new_loan_terms"].(document.Object)
	if !ok {
		t.Fatalf("new_loan_terms=%T, want Object", docs[0]["new_loan_terms"])
	}
	if got := terms["repayment_period_in_months"]; got != document.Int(36) {
		t.Fatalf("repayment_period_in_months=%#v, want Int(36)", got)
	}
}

func TestStreamDocuments_EmptyInput(t *testing.T) {
	t.Parallel()

	docs, err := collect(t, context.Background(), "")
	if err != nil || len(docs) != 0 {
		t.Fatalf("StreamDocuments(\"\") docs=%v err=%v, want none, nil", docs, err)
	}
}

func TestStreamDocuments_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"scalar root", `42`, "unsupported root token"},
		{"non-object element", `[{"a":1}, 2]`, "not an object"},
		{"truncated", `[{"a":1}`, "json:"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := collect(t, context.Background(), tc.input)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("StreamDocuments() err=%v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestStreamDocuments_StopsOnEmitErrorAndCancel(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	n := 0
	_, err := StreamDocuments(context.Background(), strings.NewReader(`[{"a":1},{"a":2},{"a":3}]`), func(document.Record) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Fatalf("emit calls=%d err=%v, want 2, stop", n, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = collect(t, ctx, `[{"a":1},{"a":2}]`)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled err=%v, want context.Canceled", err)
	}
}
