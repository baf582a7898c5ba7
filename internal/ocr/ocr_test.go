package ocr

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

type stubRunner struct {
	text  string
	tsv   string
	err   error
	calls [][]string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	if s.err != nil {
		return nil, []byte("Error opening data file"), s.err
	}
	if args[len(args)-1] == "tsv" {
		return []byte(s.tsv), nil, nil
	}
	return []byte(s.text), nil, nil
}

type dirResolver string

func (d dirResolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty ref")
	}
	return string(d) + "/" + ref, nil
}

func newTestExtractor(cfg Config, r Runner) *Extractor {
	return NewExtractor(cfg, dirResolver("/data"), slog.Default(), WithRunner(r), WithClock(func() time.Time { return testNow }))
}

func TestParseSteps(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		steps   int
		keyword bool
		ok      bool
	}{
		{"count before label", "Activity\n8,421 steps\n5.2 km", 8421, true, true},
		{"label before count", "Steps\n12345\nDistance 9.1 km", 12345, true, true},
		{"dotted thousands", "10.002 Schritte", 10002, true, true},
		{"no label picks largest", "Oct 12, 2026\n7,650\n312 kcal", 7650, false, true},
		{"date digits ignored", "2026-10-12\n42", 0, false, false},
		{"implausible", "9,999,999 steps", 0, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, kw, ok := ParseSteps(tc.text)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.steps, n)
			assert.Equal(t, tc.keyword, kw)
		})
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Sat 2026-10-17", "2026-10-17"},
		{"October 12, 2026", "2026-10-12"},
		{"Oct. 3rd 2026", "2026-10-03"},
		{"12 Oct 2026", "2026-10-12"},
		{"10/12/2026", "2026-10-12"},
		{"25/09/2026", "2026-09-25"},
		{"Today", "2026-10-18"},
		{"yesterday 9,000 steps", "2026-10-17"},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got, ok := ParseDate(tc.text, testNow)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	_, ok := ParseDate("February 31, 2026", testNow)
	assert.False(t, ok)
	_, ok = ParseDate("8,000 steps", testNow)
	assert.False(t, ok)
}

func TestParseDropsFutureDate(t *testing.T) {
	p := Parse("2026-11-02\n9,100 steps", testNow)
	require.NotNil(t, p.Steps)
	assert.Equal(t, 9100, *p.Steps)
	assert.Empty(t, p.Date)
	assert.Contains(t, p.Notes, "ignored future date 2026-11-02")
}

func TestGrade(t *testing.T) {
	full := Parse("Oct 17, 2026\n9,100 steps", testNow)
	assert.Equal(t, constants.ConfidenceHigh, Grade(full, 0))
	assert.Equal(t, constants.ConfidenceMedium, Grade(full, 0.5))

	noDate := Parse("9,100 steps", testNow)
	assert.Equal(t, constants.ConfidenceMedium, Grade(noDate, 0))

	guessed := Parse("9,100", testNow)
	assert.Equal(t, constants.ConfidenceLow, Grade(guessed, 0))

	none := Parse("hello", testNow)
	assert.Equal(t, constants.ConfidenceLow, Grade(none, 0.99))
}

func TestNormalize(t *testing.T) {
	in := "Steps\t\t8,4O2\r\n\r\n\r\n\r\n-----\nDistance   5 km  "
	assert.Equal(t, "Steps 8,402\n\nDistance 5 km", Normalize(in))
}

func TestMeanWordConfidence(t *testing.T) {
	tsv := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t",
		"5\t1\t1\t1\t1\t1\t10\t10\t40\t12\t96.5\t8,421",
		"5\t1\t1\t1\t1\t2\t60\t10\t40\t12\t83.5\tsteps",
	}, "\n")
	assert.InDelta(t, 0.9, MeanWordConfidence(tsv), 1e-9)
	assert.Zero(t, MeanWordConfidence(""))
}

func TestExtract(t *testing.T) {
	r := &stubRunner{
		text: "Today\n10,250 steps\n7.4 km",
		tsv:  "header\n5\t1\t1\t1\t1\t1\t0\t0\t1\t1\t90\t10,250",
	}
	e := newTestExtractor(Config{EnableTSVConfidence: true, PSM: 11}, r)

	res, err := e.Extract(context.Background(), client.ExtractRequest{ProofRef: "proofs/2026/10/a.jpg"})
	require.NoError(t, err)
	require.NotNil(t, res.Steps)
	assert.Equal(t, 10250, *res.Steps)
	assert.Equal(t, "2026-10-18", res.Date)
	assert.Equal(t, "high", res.Confidence)

	require.Len(t, r.calls, 2)
	assert.Equal(t, []string{"tesseract", "/data/proofs/2026/10/a.jpg", "stdout", "-l", "eng", "--psm", "11"}, r.calls[0])
	assert.Equal(t, "tsv", r.calls[1][len(r.calls[1])-1])

	ex := res.ToExtracted()
	assert.Equal(t, constants.ConfidenceHigh, ex.Confidence)
}

func TestExtractFailures(t *testing.T) {
	r := &stubRunner{err: errors.New("exit status 1")}
	e := newTestExtractor(Config{}, r)

	_, err := e.Extract(context.Background(), client.ExtractRequest{ProofRef: "proofs/a.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error opening data file")
	assert.False(t, common.IsRetryable(err))

	_, err = e.Extract(context.Background(), client.ExtractRequest{})
	assert.Equal(t, common.KindValidation, common.Classify(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Extract(ctx, client.ExtractRequest{ProofRef: "proofs/a.jpg"})
	assert.ErrorIs(t, err, context.Canceled)
}
