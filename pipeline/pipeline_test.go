package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treeglot/treeglot/docnode"
	"github.com/treeglot/treeglot/progress"
	"github.com/treeglot/treeglot/translate"
)

var upperBackend = translate.BackendFunc(func(_ context.Context, texts []string, _ string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = strings.ToUpper(t)
	}
	return out, nil
})

var echoBackend = translate.BackendFunc(func(_ context.Context, texts []string, _ string) ([]string, error) {
	out := make([]string, len(texts))
	copy(out, texts)
	return out, nil
})

func TestRun_EchoPreservesDocument(t *testing.T) {
	source := []byte(`server:
  name: "My Server"
  port: 25565
  motd: Welcome everyone!
flags:
  enabled: true
  ratio: 1.5
messages:
  - first message
  - second message
`)
	out := filepath.Join(t.TempDir(), "translated_config.yml")
	got, sum, err := Run(context.Background(), source, out, "fr", "French", echoBackend, Config{})
	require.NoError(t, err)

	want, err := docnode.Parse(source)
	require.NoError(t, err)
	require.True(t, docnode.Equal(got, want), "echo translation must reproduce the document exactly")

	require.Equal(t, 7, sum.TotalLeaves)
	require.Equal(t, 4, sum.Translatable) // name, motd, two messages
	require.Equal(t, 4, sum.Done)
	require.Equal(t, 0, sum.Failed)

	// Complete run: output written, progress side file cleared.
	onDisk, err := docnode.ParseFile(out)
	require.NoError(t, err)
	require.True(t, docnode.Equal(onDisk, want))
	_, err = os.Stat(out + progress.Suffix)
	require.True(t, os.IsNotExist(err))
}

func TestRun_ScalarTypesSurvive(t *testing.T) {
	source := []byte(`text: A real sentence here
number: 42
version: "1.21"
flag: false
`)
	out := filepath.Join(t.TempDir(), "translated.yml")
	got, _, err := Run(context.Background(), source, out, "fr", "French", upperBackend, Config{})
	require.NoError(t, err)

	require.Equal(t, "A REAL SENTENCE HERE", got.Get("text").Value)
	require.Equal(t, docnode.IntType, got.Get("number").Type)
	require.Equal(t, "42", got.Get("number").Value)
	require.Equal(t, docnode.StringType, got.Get("version").Type)
	require.Equal(t, "1.21", got.Get("version").Value)
	require.Equal(t, docnode.BoolType, got.Get("flag").Type)
	require.Equal(t, "false", got.Get("flag").Value)

	// The quoted version string still parses back as a string.
	reread, err := docnode.ParseFile(out)
	require.NoError(t, err)
	require.Equal(t, docnode.StringType, reread.Get("version").Type)
}

func TestRun_PlaceholderOnlyValuesNeverSubmitted(t *testing.T) {
	source := []byte(`prefix: "{value} &7 %x%"
greeting: Hello there
`)
	var mu sync.Mutex
	var submitted []string
	spy := translate.BackendFunc(func(ctx context.Context, texts []string, lang string) ([]string, error) {
		mu.Lock()
		submitted = append(submitted, texts...)
		mu.Unlock()
		return upperBackend(ctx, texts, lang)
	})

	out := filepath.Join(t.TempDir(), "translated.yml")
	got, sum, err := Run(context.Background(), source, out, "fr", "French", spy, Config{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Translatable)
	require.Len(t, submitted, 1)

	require.Equal(t, "{value} &7 %x%", got.Get("prefix").Value)
	require.Equal(t, "HELLO THERE", got.Get("greeting").Value)
}

func TestRun_PlaceholdersSurviveTranslation(t *testing.T) {
	source := []byte("msg: \"Hello {player}, you have &a100 &fXP! \\\\n Welcome!\"\n")
	out := filepath.Join(t.TempDir(), "translated.yml")
	got, _, err := Run(context.Background(), source, out, "fr", "French", upperBackend, Config{})
	require.NoError(t, err)
	require.Equal(t, `HELLO {player}, YOU HAVE &a100 &fXP! \n WELCOME!`, got.Get("msg").Value)
}

func TestRun_ShapeMismatchKeepsOriginalsAndProgressFile(t *testing.T) {
	source := []byte("a: one\nb: two\nc: three\n")
	short := translate.BackendFunc(func(_ context.Context, texts []string, _ string) ([]string, error) {
		return make([]string, len(texts)-1), nil
	})
	out := filepath.Join(t.TempDir(), "translated.yml")
	got, sum, err := Run(context.Background(), source, out, "fr", "French", short, Config{MaxRetries: 1})
	require.NoError(t, err)
	require.Equal(t, 3, sum.Failed)
	require.Equal(t, 0, sum.Done)

	want, _ := docnode.Parse(source)
	require.True(t, docnode.Equal(got, want))

	// Failures keep the side file so a rerun can retry them.
	_, err = os.Stat(out + progress.Suffix)
	require.NoError(t, err)
}

func TestRun_InterruptedThenResumed(t *testing.T) {
	source := []byte("a: one\nb: two\nc: three\nd: four\n")
	out := filepath.Join(t.TempDir(), "translated.yml")
	cfg := Config{BatchSize: 1, MaxConcurrent: 1}

	// First run: cancel after the second batch lands.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	interrupting := translate.BackendFunc(func(ctx context.Context, texts []string, lang string) ([]string, error) {
		if calls.Add(1) == 3 {
			cancel()
			return nil, ctx.Err()
		}
		return upperBackend(ctx, texts, lang)
	})
	_, sum, err := Run(ctx, source, out, "fr", "French", interrupting, cfg)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, sum.Done)

	// Second run resumes: already-done leaves are never re-sent.
	var mu sync.Mutex
	var resent []string
	spy := translate.BackendFunc(func(ctx context.Context, texts []string, lang string) ([]string, error) {
		mu.Lock()
		resent = append(resent, texts...)
		mu.Unlock()
		return upperBackend(ctx, texts, lang)
	})
	got, sum2, err := Run(context.Background(), source, out, "fr", "French", spy, cfg)
	require.NoError(t, err)
	require.Equal(t, 2, sum2.Skipped)
	require.Equal(t, 4, sum2.Done)
	require.NotContains(t, resent, "one")
	require.NotContains(t, resent, "two")

	// The combined output equals an uninterrupted run's output.
	uninterrupted, _, err := Run(context.Background(), source,
		filepath.Join(t.TempDir(), "translated.yml"), "fr", "French", upperBackend, cfg)
	require.NoError(t, err)
	require.True(t, docnode.Equal(got, uninterrupted))
}

func TestRun_FreshDiscardsPriorProgress(t *testing.T) {
	source := []byte("a: one\nb: two\n")
	out := filepath.Join(t.TempDir(), "translated.yml")

	_, _, err := Run(context.Background(), source, out, "fr", "French", echoBackend, Config{})
	require.NoError(t, err)

	var mu sync.Mutex
	var sent []string
	spy := translate.BackendFunc(func(ctx context.Context, texts []string, lang string) ([]string, error) {
		mu.Lock()
		sent = append(sent, texts...)
		mu.Unlock()
		return upperBackend(ctx, texts, lang)
	})
	_, sum, err := Run(context.Background(), source, out, "fr", "French", spy, Config{Fresh: true})
	require.NoError(t, err)
	require.Equal(t, 0, sum.Skipped)
	require.Len(t, sent, 2)
}

func TestRun_ScalarRootDocument(t *testing.T) {
	source := []byte("just a plain sentence\n")
	out := filepath.Join(t.TempDir(), "translated.yml")
	got, sum, err := Run(context.Background(), source, out, "fr", "French", upperBackend, Config{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Translatable)
	require.Equal(t, 1, sum.Done)
	require.Equal(t, "JUST A PLAIN SENTENCE", got.Value)

	onDisk, err := docnode.ParseFile(out)
	require.NoError(t, err)
	require.True(t, docnode.Equal(got, onDisk))
}

func TestRun_InvalidYAMLIsFatal(t *testing.T) {
	out := filepath.Join(t.TempDir(), "translated.yml")
	_, _, err := Run(context.Background(), []byte("a: [unclosed\n"), out, "fr", "French", echoBackend, Config{})
	require.Error(t, err)
}

func TestRun_NoTranslatableLeavesStillWritesOutput(t *testing.T) {
	source := []byte("port: 25565\nenabled: true\n")
	out := filepath.Join(t.TempDir(), "translated.yml")
	got, sum, err := Run(context.Background(), source, out, "fr", "French", echoBackend, Config{})
	require.NoError(t, err)
	require.Equal(t, 0, sum.Translatable)

	want, _ := docnode.Parse(source)
	require.True(t, docnode.Equal(got, want))
	onDisk, err := docnode.ParseFile(out)
	require.NoError(t, err)
	require.True(t, docnode.Equal(onDisk, want))
}
