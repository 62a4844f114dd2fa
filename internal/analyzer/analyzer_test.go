package analyzer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/imgraph/internal/engine"
	"github.com/kalambet/imgraph/internal/provider"
	"github.com/kalambet/imgraph/internal/storage"
)

type fakeEngine struct {
	mu         sync.Mutex
	caption    string
	ocr        string
	vec        []float32
	chatErr    error
	embedErr   error
	captions   int
	ocrs       int
	embedTexts []string
	maxTokens  []int
}

func (f *fakeEngine) Chat(_ context.Context, _ string, msgs []engine.Message, opts engine.ChatOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return "", f.chatErr
	}
	if len(msgs) != 1 || len(msgs[0].Images) != 1 {
		return "", errors.New("expected one message with one image")
	}
	if msgs[0].Content == captionPrompt {
		f.captions++
		f.maxTokens = append(f.maxTokens, opts.MaxTokens)
		return f.caption, nil
	}
	f.ocrs++
	return f.ocr, nil
}

func (f *fakeEngine) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedTexts = append(f.embedTexts, text)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.vec, nil
}

func (f *fakeEngine) IsRunning(context.Context) bool                 { return true }
func (f *fakeEngine) ListModels(context.Context) ([]string, error)   { return nil, nil }
func (f *fakeEngine) HasModel(context.Context, string) bool          { return true }
func (f *fakeEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

type fakeDescriber struct {
	out   string
	err   error
	calls int
	reqs  []provider.Request
}

func (d *fakeDescriber) Name() string { return "fake" }
func (d *fakeDescriber) Describe(_ context.Context, req provider.Request) (string, error) {
	d.calls++
	d.reqs = append(d.reqs, req)
	return d.out, d.err
}

func newTestOrchestrator(eng engine.Engine, d *fakeDescriber) (*Orchestrator, *int) {
	o := New(eng, Config{CaptionModel: "llava", OCRModel: "llava", EmbedModel: "nomic-embed-text", Dimensions: 3})
	built := new(int)
	if d != nil {
		o.newDescriber = func(context.Context, provider.Config) (provider.Describer, error) {
			*built++
			return d, nil
		}
	}
	return o, built
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeText(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyze_LocalImage(t *testing.T) {
	eng := &fakeEngine{caption: "a red line", ocr: "EXIT\nNOW", vec: []float32{1, 0, 0}}
	o, _ := newTestOrchestrator(eng, nil)
	path := writePNG(t, t.TempDir(), "line.png", 32, 16)

	res, err := o.Analyze(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if res.ItemType != storage.TypeImage {
		t.Errorf("ItemType = %q, want image", res.ItemType)
	}
	if res.Caption != "a red line" {
		t.Errorf("Caption = %q", res.Caption)
	}
	if res.Content != "EXIT NOW" {
		t.Errorf("Content = %q, want %q", res.Content, "EXIT NOW")
	}
	if res.Method != "local:caption+ocr+embed" {
		t.Errorf("Method = %q", res.Method)
	}
	if len(res.Tags) != 0 {
		t.Errorf("Tags = %v, want none from the local image pipeline", res.Tags)
	}
	if len(eng.embedTexts) != 1 || eng.embedTexts[0] != "a red line EXIT NOW" {
		t.Errorf("embed texts = %q", eng.embedTexts)
	}
	if len(eng.maxTokens) != 1 || eng.maxTokens[0] != captionMaxTokens {
		t.Errorf("caption max tokens = %v, want %d", eng.maxTokens, captionMaxTokens)
	}
	if res.RemoteErr != nil {
		t.Errorf("RemoteErr = %v, want nil", res.RemoteErr)
	}
	if res.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", res.Duration)
	}
}

func TestAnalyze_LocalText1200Chars(t *testing.T) {
	eng := &fakeEngine{vec: []float32{0, 1, 0}}
	o, _ := newTestOrchestrator(eng, nil)

	words := []string{"graph", "nodes", "edges", "the", "with", "about", "cluster", "vector", "graph", "embedding",
		"similarity", "concept", "pipeline", "storage", "worker", "queue", "scanner", "tiny"}
	var sb strings.Builder
	sb.WriteString("Overview line\n")
	for sb.Len() < 1200 {
		for _, w := range words {
			sb.WriteString(w)
			sb.WriteString(", ")
		}
	}
	text := sb.String()[:1200]
	path := writeText(t, t.TempDir(), "notes.txt", text)

	res, err := o.Analyze(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if res.ItemType != storage.TypeText {
		t.Errorf("ItemType = %q, want text", res.ItemType)
	}
	if got := len([]rune(res.Content)); got != 1000 {
		t.Errorf("content length = %d, want 1000", got)
	}
	if len(eng.embedTexts) != 1 || len([]rune(eng.embedTexts[0])) != 500 {
		t.Fatalf("embed text length = %d, want 500", len([]rune(eng.embedTexts[0])))
	}
	if res.Caption != "Overview line" {
		t.Errorf("Caption = %q", res.Caption)
	}
	if len(res.Tags) == 0 || len(res.Tags) > 10 {
		t.Fatalf("Tags = %v, want 1..10 tags", res.Tags)
	}
	for _, tag := range res.Tags {
		if len(tag) <= TextTagMinLen {
			t.Errorf("tag %q is too short", tag)
		}
		if tag == "about" {
			t.Errorf("stop word %q kept", tag)
		}
	}
	if res.Tags[0] != "overview" || res.Tags[1] != "graph" {
		t.Errorf("Tags = %v, want first-occurrence order", res.Tags)
	}

	again, err := o.Analyze(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if strings.Join(again.Tags, ",") != strings.Join(res.Tags, ",") {
		t.Errorf("tags not deterministic: %v vs %v", again.Tags, res.Tags)
	}
}

func TestAnalyze_RemoteImageSuccess(t *testing.T) {
	eng := &fakeEngine{caption: "unused", ocr: "STOP", vec: []float32{1, 1, 0}}
	d := &fakeDescriber{out: "```json\n{\"caption\": \"a stop sign\", \"tags\": [\"sign\", \"street\"]}\n```"}
	o, _ := newTestOrchestrator(eng, d)
	path := writePNG(t, t.TempDir(), "sign.png", 8, 8)

	res, err := o.Analyze(context.Background(), path, Options{UseRemote: true, Provider: provider.KindGemini, Credentials: "key"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if res.Caption != "a stop sign" {
		t.Errorf("Caption = %q", res.Caption)
	}
	if strings.Join(res.Tags, ",") != "sign,street" {
		t.Errorf("Tags = %v", res.Tags)
	}
	if res.Content != "STOP" {
		t.Errorf("Content = %q, want local OCR", res.Content)
	}
	if len(res.Embedding) != 3 {
		t.Errorf("Embedding = %v, want local embedding", res.Embedding)
	}
	if !strings.HasPrefix(res.Method, "remote:gemini") {
		t.Errorf("Method = %q", res.Method)
	}
	if eng.captions != 0 {
		t.Errorf("local caption ran %d times, want 0", eng.captions)
	}
	if eng.ocrs != 1 {
		t.Errorf("local ocr ran %d times, want 1", eng.ocrs)
	}
	if d.reqs[0].MIMEType != "image/jpeg" || len(d.reqs[0].Image) == 0 {
		t.Errorf("describer request missing image: %+v", d.reqs[0].MIMEType)
	}
}

func TestAnalyze_RemoteTextUsesLongPrefix(t *testing.T) {
	eng := &fakeEngine{vec: []float32{0, 0, 1}}
	d := &fakeDescriber{out: `{"summary":"a story","tags":["story"]}`}
	o, _ := newTestOrchestrator(eng, d)
	path := writeText(t, t.TempDir(), "story.txt", strings.Repeat("x", 1200))

	res, err := o.Analyze(context.Background(), path, Options{UseRemote: true, Provider: provider.KindOpenRouter, Credentials: "key"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Caption != "a story" {
		t.Errorf("Caption = %q, want summary", res.Caption)
	}
	sent := strings.TrimPrefix(d.reqs[0].Prompt, textPrompt)
	if len(sent) != 1000 {
		t.Errorf("remote text prefix = %d chars, want 1000", len(sent))
	}
	if len(eng.embedTexts[0]) != 500 {
		t.Errorf("embed prefix = %d chars, want 500", len(eng.embedTexts[0]))
	}
}

func TestAnalyze_RemoteTextWithoutTagsUsesLocalPrefix(t *testing.T) {
	eng := &fakeEngine{vec: []float32{0, 0, 1}}
	d := &fakeDescriber{out: `{"summary":"animals","tags":[]}`}
	o, _ := newTestOrchestrator(eng, d)
	text := strings.Repeat("ab ", 166) + "ab" + " pelicans" + strings.Repeat(" zz", 200)
	path := writeText(t, t.TempDir(), "animals.txt", "marmots "+text)

	res, err := o.Analyze(context.Background(), path, Options{UseRemote: true, Provider: provider.KindOpenRouter, Credentials: "key"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := strings.Join(res.Tags, ","); got != "marmots" {
		t.Errorf("Tags = %q, want only words inside the 500-rune prefix", got)
	}
}

func TestAnalyze_MissingCredentialsFallsBack(t *testing.T) {
	eng := &fakeEngine{caption: "a cat", ocr: "", vec: []float32{1, 0, 0}}
	o, _ := newTestOrchestrator(eng, nil)
	path := writePNG(t, t.TempDir(), "cat.png", 8, 8)

	res, err := o.Analyze(context.Background(), path, Options{UseRemote: true, Provider: provider.KindGemini})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.HasPrefix(res.Method, "local-fallback(gemini)") {
		t.Errorf("Method = %q, want local fallback", res.Method)
	}
	if res.RemoteErr == nil || res.RemoteErr.Reason != ReasonMissingCredentials {
		t.Errorf("RemoteErr = %v, want missing credentials", res.RemoteErr)
	}
	if res.Caption != "a cat" {
		t.Errorf("Caption = %q", res.Caption)
	}
}

func TestAnalyze_MalformedResponseFallsBackOnce(t *testing.T) {
	eng := &fakeEngine{caption: "a dog", ocr: "", vec: []float32{0, 1, 0}}
	d := &fakeDescriber{out: "I cannot help with that."}
	o, _ := newTestOrchestrator(eng, d)
	path := writePNG(t, t.TempDir(), "dog.png", 8, 8)

	res, err := o.Analyze(context.Background(), path, Options{UseRemote: true, Provider: provider.KindAnthropic, Credentials: "key"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.calls != 1 {
		t.Errorf("remote calls = %d, want 1", d.calls)
	}
	if eng.captions != 1 {
		t.Errorf("local caption calls = %d, want 1", eng.captions)
	}
	if res.RemoteErr == nil || res.RemoteErr.Reason != ReasonMalformedResponse {
		t.Errorf("RemoteErr = %v, want malformed response", res.RemoteErr)
	}
}

func TestAnalyze_RemoteRequestErrorFallsBack(t *testing.T) {
	eng := &fakeEngine{caption: "a bird", vec: []float32{0, 1, 0}}
	d := &fakeDescriber{err: errors.New("connection refused")}
	o, _ := newTestOrchestrator(eng, d)
	path := writePNG(t, t.TempDir(), "bird.png", 8, 8)

	res, err := o.Analyze(context.Background(), path, Options{UseRemote: true, Provider: provider.KindOllama, BaseURL: "http://nas:11434"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	var perr *ProviderError
	if res.RemoteErr == nil || !errors.As(error(res.RemoteErr), &perr) || perr.Reason != ReasonRequestFailed {
		t.Errorf("RemoteErr = %v, want request failed", res.RemoteErr)
	}
}

func TestAnalyze_CorruptImage(t *testing.T) {
	eng := &fakeEngine{vec: []float32{1, 0, 0}}
	d := &fakeDescriber{out: `{"caption":"x"}`}
	o, _ := newTestOrchestrator(eng, d)
	path := writeText(t, t.TempDir(), "broken.jpg", "not really a jpeg")

	_, err := o.Analyze(context.Background(), path, Options{UseRemote: true, Provider: provider.KindGemini, Credentials: "k"})
	var lerr *LocalModelError
	if !errors.As(err, &lerr) {
		t.Fatalf("err = %v, want *LocalModelError", err)
	}
	if lerr.Stage != "decode" {
		t.Errorf("Stage = %q, want decode", lerr.Stage)
	}
	if d.calls != 0 || eng.captions != 0 {
		t.Errorf("models called for a corrupt file: remote=%d caption=%d", d.calls, eng.captions)
	}
}

func TestAnalyze_DimensionMismatch(t *testing.T) {
	eng := &fakeEngine{vec: []float32{1, 0}}
	o, _ := newTestOrchestrator(eng, nil)
	path := writeText(t, t.TempDir(), "a.txt", "hello world")

	_, err := o.Analyze(context.Background(), path, Options{})
	var lerr *LocalModelError
	if !errors.As(err, &lerr) || lerr.Stage != "embed" {
		t.Fatalf("err = %v, want embed LocalModelError", err)
	}
}

func TestAnalyze_LocalModelFailure(t *testing.T) {
	eng := &fakeEngine{chatErr: errors.New("model not loaded"), vec: []float32{1, 0, 0}}
	o, _ := newTestOrchestrator(eng, nil)
	path := writePNG(t, t.TempDir(), "x.png", 4, 4)

	_, err := o.Analyze(context.Background(), path, Options{})
	var lerr *LocalModelError
	if !errors.As(err, &lerr) {
		t.Fatalf("err = %v, want *LocalModelError", err)
	}
}

func TestDescriberIsCached(t *testing.T) {
	eng := &fakeEngine{ocr: "", vec: []float32{1, 0, 0}}
	d := &fakeDescriber{out: `{"caption":"c","tags":["t"]}`}
	o, built := newTestOrchestrator(eng, d)
	dir := t.TempDir()
	opts := Options{UseRemote: true, Provider: provider.KindGemini, Credentials: "key"}

	for _, name := range []string{"a.png", "b.png"} {
		if _, err := o.Analyze(context.Background(), writePNG(t, dir, name, 4, 4), opts); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}
	if *built != 1 {
		t.Errorf("describer built %d times, want 1", *built)
	}

	opts.Credentials = "other"
	if _, err := o.Analyze(context.Background(), writePNG(t, dir, "c.png", 4, 4), opts); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if *built != 2 {
		t.Errorf("describer built %d times after key change, want 2", *built)
	}
}

func TestTypeOf(t *testing.T) {
	if TypeOf("/a/b.TXT") != storage.TypeText {
		t.Error("TypeOf(.TXT) != text")
	}
	if TypeOf("/a/b.webp") != storage.TypeImage {
		t.Error("TypeOf(.webp) != image")
	}
}
