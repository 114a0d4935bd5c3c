package molbot

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stjordanis/MolBot/codec"
	"github.com/stjordanis/MolBot/finetune"
	"github.com/stjordanis/MolBot/reward"
	"github.com/stjordanis/MolBot/vocab"
	"github.com/unixpickle/serializer"
)

func testConfig(policy string) Config {
	cfg := DefaultConfig()
	cfg.Policy = policy
	cfg.Window = 2
	cfg.Hidden1 = 8
	cfg.Hidden2 = 6
	cfg.Epochs = 2
	cfg.Validation = -1
	cfg.Seed = 1337
	return cfg
}

func testGenerator(t *testing.T, policy string, data []string) *Generator {
	g, err := New(testConfig(policy), data)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func checkAlphabet(t *testing.T, strs []string, alphabet string) {
	for _, s := range strs {
		for _, r := range s {
			if !strings.ContainsRune(alphabet, r) {
				t.Errorf("unexpected symbol %q in %q", r, s)
			}
		}
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := testConfig(PolicyFull)
	cfg.Dropout1 = 1.5
	_, err := New(cfg, nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "dropout1" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNotFitted(t *testing.T) {
	g := testGenerator(t, PolicyFull, []string{"CCO"})
	ctx := context.Background()
	if _, err := g.Predict(ctx, []string{"C"}, PredictOptions{}); err != ErrNotFitted {
		t.Errorf("Predict: unexpected error %v", err)
	}
	if _, err := g.PredictIndices(ctx, []int{0}, PredictOptions{}); err != ErrNotFitted {
		t.Errorf("PredictIndices: unexpected error %v", err)
	}
	if _, err := g.Generate(ctx, 1, PredictOptions{}); err != ErrNotFitted {
		t.Errorf("Generate: unexpected error %v", err)
	}
	fineTuneReward := reward.ScoreFunc(func(s string) (float64, bool) { return 0, true })
	if _, err := g.FineTune(ctx, fineTuneReward, finetune.Config{}); err != ErrNotFitted {
		t.Errorf("FineTune: unexpected error %v", err)
	}
	if _, err := g.Export(); err != ErrNotFitted {
		t.Errorf("Export: unexpected error %v", err)
	}
	if g.State() != Untrained {
		t.Errorf("unexpected state %v", g.State())
	}
}

func TestMissingInput(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t, PolicyFull, nil)
	if err := g.Fit(ctx, nil); err != ErrMissingInput {
		t.Errorf("Fit: unexpected error %v", err)
	}
	if err := g.FitIndices(ctx, []int{0}); err != ErrMissingInput {
		t.Errorf("FitIndices: unexpected error %v", err)
	}
	if err := g.Fit(ctx, []string{"CC", "CO"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Predict(ctx, nil, PredictOptions{}); err != ErrMissingInput {
		t.Errorf("Predict: unexpected error %v", err)
	}
	if _, err := g.PredictIndices(ctx, []int{0}, PredictOptions{}); err != ErrMissingInput {
		t.Errorf("PredictIndices: unexpected error %v", err)
	}
}

func TestVocabularyImmutable(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []string{PolicyFull, PolicyWindowed} {
		t.Run(policy, func(t *testing.T) {
			g := testGenerator(t, policy, nil)
			if err := g.Fit(ctx, []string{"ab", "ba"}); err != nil {
				t.Fatal(err)
			}
			symbols := g.Policy().Vocab().Symbols()

			err := g.Fit(ctx, []string{"az"})
			var unknown *vocab.UnknownSymbolError
			if !errors.As(err, &unknown) || unknown.Symbol != 'z' {
				t.Errorf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(symbols, g.Policy().Vocab().Symbols()) {
				t.Error("vocabulary changed")
			}
			if g.State() != Fitted {
				t.Errorf("unexpected state %v", g.State())
			}
		})
	}
}

func TestFailedFirstFit(t *testing.T) {
	g := testGenerator(t, PolicyWindowed, nil)
	g.Config.Window = 10
	err := g.Fit(context.Background(), []string{"ab"})
	if err != ErrMissingInput {
		t.Errorf("expected missing input but got %v", err)
	}
	if g.State() != Untrained {
		t.Errorf("unexpected state %v", g.State())
	}
}

func TestFitCancelKeepsModel(t *testing.T) {
	g := testGenerator(t, PolicyFull, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Fit(ctx, []string{"CCO", "CCN"}); err != context.Canceled {
		t.Errorf("expected cancellation but got %v", err)
	}
	if g.State() != Fitted {
		t.Fatalf("unexpected state %v", g.State())
	}
	res, err := g.Predict(context.Background(), []string{"C"}, PredictOptions{MaxLen: 6})
	if err != nil {
		t.Fatal(err)
	}
	checkAlphabet(t, res, "CNOGA")
	if _, err := g.Export(); err != nil {
		t.Error(err)
	}
}

func TestFrozenLength(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t, PolicyFull, nil)
	if err := g.Fit(ctx, []string{"ab", "ba"}); err != nil {
		t.Fatal(err)
	}
	err := g.Fit(ctx, []string{"abab"})
	var lengthErr *codec.LengthError
	if !errors.As(err, &lengthErr) || lengthErr.Limit != 4 || lengthErr.Length != 6 {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFitPredict(t *testing.T) {
	ctx := context.Background()
	data := []string{"CCO", "CCN", "COC", "NCC", "CC(O)C"}
	for _, policy := range []string{PolicyFull, PolicyWindowed} {
		t.Run(policy, func(t *testing.T) {
			g := testGenerator(t, policy, nil)
			if err := g.Fit(ctx, data); err != nil {
				t.Fatal(err)
			}
			preds, err := g.Predict(ctx, []string{"CC", "N"}, PredictOptions{
				Temperature: 0.5,
				MaxLen:      12,
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(preds) != 2 {
				t.Fatalf("expected 2 predictions but got %d", len(preds))
			}
			checkAlphabet(t, preds, "CNO()GA")
			for _, p := range preds {
				if len(p) > 10 {
					t.Errorf("prediction %q is too long", p)
				}
			}

			again, err := g.Predict(ctx, []string{"CC", "N"}, PredictOptions{
				Temperature: 0.5,
				MaxLen:      12,
			})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(preds, again) {
				t.Errorf("greedy predictions differ: %v and %v", preds, again)
			}

			score, err := g.Score(ctx, reward.Syntax{}, []string{"CC"}, PredictOptions{MaxLen: 12})
			if err != nil {
				t.Fatal(err)
			}
			if score != 0 && score != 1 {
				t.Errorf("unexpected score %f", score)
			}
		})
	}
}

func TestFitIndices(t *testing.T) {
	ctx := context.Background()
	data := []string{"CCO", "CCN", "OCCO", "NCCN"}
	g := testGenerator(t, PolicyWindowed, data)
	if err := g.FitIndices(ctx, []int{0, 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Policy().Vocab().Index('N'); err != nil {
		t.Error("vocabulary should cover all stored data")
	}
	preds, err := g.PredictIndices(ctx, []int{1, 3}, PredictOptions{MaxLen: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 2 {
		t.Fatalf("expected 2 predictions but got %d", len(preds))
	}
	if err := g.FitIndices(ctx, []int{4}); err == nil {
		t.Error("expected error for out-of-range index")
	}
	if _, err := g.PredictIndices(ctx, []int{-1}, PredictOptions{}); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t, PolicyFull, nil)
	if err := g.Fit(ctx, []string{"CCO", "CCN"}); err != nil {
		t.Fatal(err)
	}
	res, err := g.Generate(ctx, 5, PredictOptions{MaxLen: 7})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 5 {
		t.Fatalf("expected 5 strings but got %d", len(res))
	}
	checkAlphabet(t, res, "CNOG")
	for _, s := range res {
		if len(s) > 5 {
			t.Errorf("string %q is too long", s)
		}
	}

	_, err = g.Generate(ctx, -1, PredictOptions{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "n" {
		t.Errorf("unexpected error: %v", err)
	}
	if res, err := g.Generate(ctx, 0, PredictOptions{}); err != nil || len(res) != 0 {
		t.Errorf("unexpected result %v (%v)", res, err)
	}
}

func TestWindowedUnsupported(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t, PolicyWindowed, nil)
	if err := g.Fit(ctx, []string{"CCO", "CCN"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(ctx, 1, PredictOptions{}); err != ErrUnsupported {
		t.Errorf("Generate: unexpected error %v", err)
	}
	r := reward.ScoreFunc(func(s string) (float64, bool) { return 1, true })
	if _, err := g.FineTune(ctx, r, finetune.Config{}); err != ErrUnsupported {
		t.Errorf("FineTune: unexpected error %v", err)
	}
}

func TestFineTune(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t, PolicyFull, nil)
	if err := g.Fit(ctx, []string{"CCO", "CCN", "OCO"}); err != nil {
		t.Fatal(err)
	}
	before, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}

	var scored int
	r := reward.ScoreFunc(func(s string) (float64, bool) {
		scored++
		return float64(strings.Count(s, "O")), true
	})
	stats, err := g.FineTune(ctx, r, finetune.Config{
		Batch:       4,
		ReplaySteps: 3,
		MaxLength:   8,
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Iterations != 1 || stats.Episodes != 4 || scored != 4 || stats.Updates != 3 {
		t.Errorf("unexpected stats: %+v (scored %d)", stats, scored)
	}

	after, err := g.Export()
	if err != nil {
		t.Fatal(err)
	}
	p1 := before.Model.Parameters()
	p2 := after.Model.Parameters()
	var changed bool
	for i := range p1 {
		if !reflect.DeepEqual(p1[i].Vector.Data(), p2[i].Vector.Data()) {
			changed = true
		}
	}
	if !changed {
		t.Error("fine-tuning did not update the model")
	}
	if after.Model.Temperature() != 1 {
		t.Error("fine-tuning should not change the model's temperature")
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []string{PolicyFull, PolicyWindowed} {
		t.Run(policy, func(t *testing.T) {
			g := testGenerator(t, policy, nil)
			if err := g.Fit(ctx, []string{"CCO", "CCN", "NCO"}); err != nil {
				t.Fatal(err)
			}
			bundle, err := g.Export()
			if err != nil {
				t.Fatal(err)
			}
			data, err := serializer.SerializeAny(bundle)
			if err != nil {
				t.Fatal(err)
			}
			var decoded *Bundle
			if err := serializer.DeserializeAny(data, &decoded); err != nil {
				t.Fatal(err)
			}
			if decoded.Policy != policy {
				t.Errorf("expected policy %s but got %s", policy, decoded.Policy)
			}

			g1 := testGenerator(t, PolicyFull, nil)
			if err := g1.Import(decoded); err != nil {
				t.Fatal(err)
			}
			if g1.State() != Loaded {
				t.Errorf("unexpected state %v", g1.State())
			}
			opts := PredictOptions{MaxLen: 10}
			expected, err := g.Predict(ctx, []string{"CC", "NC"}, opts)
			if err != nil {
				t.Fatal(err)
			}
			actual, err := g1.Predict(ctx, []string{"CC", "NC"}, opts)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(actual, expected) {
				t.Errorf("expected %v but got %v", expected, actual)
			}
			if !reflect.DeepEqual(g1.Policy().Vocab().Symbols(), g.Policy().Vocab().Symbols()) {
				t.Error("vocabulary differs")
			}
		})
	}
}

func TestImportInvalid(t *testing.T) {
	g := testGenerator(t, PolicyFull, nil)
	if err := g.Import(&Bundle{}); err == nil {
		t.Error("expected error for empty bundle")
	}
	if g.State() != Untrained {
		t.Errorf("unexpected state %v", g.State())
	}
}

func TestScoreSimilarity(t *testing.T) {
	g := testGenerator(t, PolicyFull, nil)
	fp := &reward.NGrams{Validator: reward.Syntax{}}
	coeffs, duplicates, err := g.ScoreSimilarity(fp, []string{"CCO", "C1CC", "CCCN"},
		[]string{"CCO"})
	if err != nil {
		t.Fatal(err)
	}
	if len(coeffs) != 2 || coeffs[0] != 1 || !(coeffs[1] < 1) {
		t.Errorf("unexpected coefficients %v", coeffs)
	}
	if duplicates != 0.5 {
		t.Errorf("unexpected duplicate fraction %f", duplicates)
	}
	if _, _, err := g.ScoreSimilarity(fp, nil, []string{"CCO"}); err != ErrMissingInput {
		t.Errorf("unexpected error: %v", err)
	}
}
