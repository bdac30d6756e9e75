package formula

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
)

func closeBars(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = domain.Bar{Time: t0.AddDate(0, 0, i), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return bars
}

func evalSrc(t *testing.T, src string, opts Options, bars []domain.Bar, env Env) indicator.Series {
	t.Helper()
	prog, err := Compile(src, opts)
	if err != nil {
		t.Fatalf("Compile(%q) returned error: %v", src, err)
	}
	out, err := prog.Eval(context.Background(), bars, env)
	if err != nil {
		t.Fatalf("Eval(%q) returned error: %v", src, err)
	}
	if len(out) != len(bars) {
		t.Fatalf("Eval(%q) length = %d, want %d", src, len(out), len(bars))
	}
	return out
}

func wantFloats(t *testing.T, src string, got indicator.Series, want []float64) {
	t.Helper()
	for i, w := range want {
		if math.IsNaN(w) {
			if got[i].Valid {
				t.Errorf("%s[%d] = %v, want undefined", src, i, got[i].Float)
			}
			continue
		}
		if !got[i].Valid || math.Abs(got[i].Float-w) > 1e-9 {
			t.Errorf("%s[%d] = %+v, want %v", src, i, got[i], w)
		}
	}
}

var nan = math.NaN()

func TestCompileRejectsUnknownNames(t *testing.T) {
	cases := []struct {
		src   string
		token string
	}{
		{"close > foo", "foo"},
		{"system(close)", "system"},
		{"SMA(close, 3) + vwap", "vwap"},
		{"os.Exit(1)", "."},
		{"close; rm", ";"},
	}
	for _, tc := range cases {
		_, err := Compile(tc.src, Options{})
		var eerr *EvaluationError
		if !errors.As(err, &eerr) {
			t.Errorf("Compile(%q) error = %v, want *EvaluationError", tc.src, err)
			continue
		}
		if eerr.Token != tc.token {
			t.Errorf("Compile(%q) token = %q, want %q", tc.src, eerr.Token, tc.token)
		}
		if !strings.Contains(eerr.Error(), tc.token) {
			t.Errorf("error message %q does not name %q", eerr.Error(), tc.token)
		}
	}
}

func TestCompileSyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"close +",
		"(close",
		"SMA(close 3)",
		"SMA(close)",
		"SMA(close, close)",
		"SMA(close, 2.5)",
		"close = 1",
		strings.Repeat("(", 500) + "1" + strings.Repeat(")", 500),
	} {
		var eerr *EvaluationError
		if _, err := Compile(src, Options{}); !errors.As(err, &eerr) {
			t.Errorf("Compile(%q) error = %v, want *EvaluationError", src, err)
		}
	}
}

func TestArithmetic(t *testing.T) {
	bars := closeBars(1, 2, 3)
	got := evalSrc(t, "close * 2 - open", Options{}, bars, Env{})
	wantFloats(t, "close*2-open", got, []float64{1.5, 2.5, 3.5})

	got = evalSrc(t, "-close + 10 / (close - 2)", Options{}, bars, Env{})
	wantFloats(t, "div", got, []float64{-11, nan, 7})
}

func TestFunctionsMatchIndicatorLibrary(t *testing.T) {
	bars := closeBars(10, 11, 12, 11, 13, 14, 12)
	closes := indicator.FromFloats(domain.Closes(bars))

	cases := map[string]indicator.Series{
		"SMA(close, 3)":  indicator.SMAOf(closes, 3),
		"ema(close, 3)":  indicator.EMAOf(closes, 3),
		"RSI(close, 3)":  indicator.RSIOf(closes, 3),
		"MAX(high, 2)":   indicator.MaxOf(indicator.FromFloats(domain.Column(bars, domain.FieldHigh)), 2),
		"MIN(low, 2)":    indicator.MinOf(indicator.FromFloats(domain.Column(bars, domain.FieldLow)), 2),
		"STD(close, 4)":  indicator.StdOf(closes, 4),
		"SUM(volume, 3)": indicator.SumOf(indicator.FromFloats(domain.Column(bars, domain.FieldVolume)), 3),
	}
	for src, want := range cases {
		got := evalSrc(t, src, Options{}, bars, Env{})
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s[%d] = %+v, want %+v", src, i, got[i], want[i])
			}
		}
	}

	got := evalSrc(t, "ABS(close - 12)", Options{}, bars, Env{})
	wantFloats(t, "abs", got, []float64{2, 1, 0, 1, 1, 2, 0})
}

func TestCrossOver(t *testing.T) {
	bars := closeBars(1, 3, 2, 4)
	prog := MustCompile("crossOver(close, 2.5)", Options{})
	if prog.Kind() != Boolean {
		t.Errorf("Kind = %v, want boolean", prog.Kind())
	}
	got, err := prog.Eval(context.Background(), bars, Env{})
	if err != nil {
		t.Fatal(err)
	}
	wantFloats(t, "crossOver", got, []float64{0, 1, 0, 1})

	under := evalSrc(t, "crossUnder(close, 2.5)", Options{}, bars, Env{})
	wantFloats(t, "crossUnder", under, []float64{0, 0, 1, 0})

	// Undefined inputs never cross and never produce undefined output.
	withSMA := evalSrc(t, "crossOver(close, SMA(close, 3))", Options{}, bars, Env{})
	wantFloats(t, "crossOver sma", withSMA, []float64{0, 0, 0, 1})
}

func TestLogicalOperators(t *testing.T) {
	bars := closeBars(1, 2, 3, 4)
	got := evalSrc(t, "close > 1 and close < 4", Options{}, bars, Env{})
	wantFloats(t, "and", got, []float64{0, 1, 1, 0})

	got = evalSrc(t, "!(close > 2) || close == 4", Options{}, bars, Env{})
	wantFloats(t, "or", got, []float64{1, 1, 0, 1})

	got = evalSrc(t, "SMA(close, 2) > 2 && true", Options{}, bars, Env{})
	wantFloats(t, "undefined and", got, []float64{nan, 0, 1, 1})
}

func TestParams(t *testing.T) {
	bars := closeBars(1, 2, 3, 4, 5)
	opts := Options{Params: map[string]float64{"n": 2, "k": 10}}
	prog, err := Compile("SMA(close, n) * k", opts)
	if err != nil {
		t.Fatal(err)
	}
	got, err := prog.Eval(context.Background(), bars, Env{})
	if err != nil {
		t.Fatal(err)
	}
	wantFloats(t, "defaults", got, []float64{nan, 15, 25, 35, 45})

	got, err = prog.Eval(context.Background(), bars, Env{Params: map[string]float64{"n": 3}})
	if err != nil {
		t.Fatal(err)
	}
	wantFloats(t, "override", got, []float64{nan, nan, 20, 30, 40})

	var cerr *domain.ConfigurationError
	if _, err := prog.Eval(context.Background(), bars, Env{Params: map[string]float64{"m": 3}}); !errors.As(err, &cerr) {
		t.Errorf("unknown override error = %v, want *ConfigurationError", err)
	}
	var eerr *EvaluationError
	if _, err := prog.Eval(context.Background(), bars, Env{Params: map[string]float64{"n": 0}}); !errors.As(err, &eerr) {
		t.Errorf("zero period override error = %v, want *EvaluationError", err)
	}
}

type fakeExternal map[string]indicator.Series

func (f fakeExternal) Indicator(_ context.Context, name string, _ []domain.Bar) (indicator.Series, error) {
	s, ok := f[name]
	if !ok {
		return nil, errors.New("missing")
	}
	return s, nil
}

func TestCustomIndicatorReferences(t *testing.T) {
	bars := closeBars(1, 2, 3)
	prog, err := Compile("close - spread", Options{Indicators: []string{"spread", "unused"}})
	if err != nil {
		t.Fatal(err)
	}
	if refs := prog.References(); len(refs) != 1 || refs[0] != "spread" {
		t.Errorf("References = %v, want [spread]", refs)
	}

	ext := fakeExternal{"spread": indicator.FromFloats([]float64{0.5, 0.5, 1})}
	got, err := prog.Eval(context.Background(), bars, Env{External: ext})
	if err != nil {
		t.Fatal(err)
	}
	wantFloats(t, "close-spread", got, []float64{0.5, 1.5, 2})

	if _, err := prog.Eval(context.Background(), bars, Env{}); err == nil {
		t.Error("Eval without resolver succeeded, want error")
	}
}

func TestEvalHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prog := MustCompile("close + 1", Options{})
	if _, err := prog.Eval(ctx, closeBars(1, 2), Env{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Eval error = %v, want context.Canceled", err)
	}
}

func TestFunctions(t *testing.T) {
	got := Functions()
	if len(got) != 10 {
		t.Fatalf("Functions() = %v, want 10 names", got)
	}
}
