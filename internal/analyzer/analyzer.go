// Package analyzer turns one file into a caption, tags, content text and an
// embedding. A remote provider can be tried first; any remote failure is
// followed by exactly one run of the local pipeline.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/imgraph/internal/engine"
	"github.com/kalambet/imgraph/internal/provider"
	"github.com/kalambet/imgraph/internal/storage"
)

// Text prefix sizes, in runes.
const (
	remoteTextPrefix = 1000
	localTextPrefix  = 500
	storedTextPrefix = 1000
	captionMaxRunes  = 120

	captionMaxTokens = 50
	remoteMaxTokens  = 1024
	clientCacheSize  = 8
)

const (
	imagePrompt = "Analyze this image and provide: 1. A detailed caption. 2. A list of key entities/concepts found in the image. " +
		"Format as JSON with 'caption' and 'tags' keys."
	textPrompt = "Summarize the following text in one or two sentences and list its key entities/concepts. " +
		"Format as JSON with 'summary' and 'tags' keys.\n\n"
	captionPrompt = "Describe this image in one short sentence."
	ocrPrompt     = "Transcribe all legible text in this image exactly as written, separated by spaces. " +
		"If the image contains no text, reply with nothing."
)

// Options selects the analysis path for one item.
type Options struct {
	UseRemote   bool
	Provider    provider.Kind
	Model       string
	Credentials string
	BaseURL     string
}

func (o Options) remote() bool {
	return o.UseRemote && o.Provider != "" && o.Provider != provider.KindNone
}

// Result is a successful analysis.
type Result struct {
	ItemType  string
	Caption   string
	Tags      []string
	Content   string // OCR text for images, text prefix for text files
	Embedding []float32
	Method    string
	Duration  time.Duration
	// RemoteErr is set when a remote attempt failed and the local pipeline
	// produced this result instead.
	RemoteErr *ProviderError
}

// Config names the local models and the expected embedding size.
type Config struct {
	CaptionModel string
	OCRModel     string
	EmbedModel   string
	// Dimensions is the embedding length every vector must have; 0 disables the check.
	Dimensions int
}

type describerFactory func(ctx context.Context, cfg provider.Config) (provider.Describer, error)

// Orchestrator dispatches files to the remote and local pipelines.
type Orchestrator struct {
	eng          engine.Engine
	cfg          Config
	newDescriber describerFactory
	clients      *lru.Cache[string, provider.Describer]
	logger       *slog.Logger
}

// New creates an Orchestrator running local models on eng.
func New(eng engine.Engine, cfg Config) *Orchestrator {
	clients, _ := lru.New[string, provider.Describer](clientCacheSize)
	return &Orchestrator{
		eng:          eng,
		cfg:          cfg,
		newDescriber: provider.New,
		clients:      clients,
		logger:       slog.Default(),
	}
}

// TypeOf classifies path by extension.
func TypeOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return storage.TypeText
	}
	return storage.TypeImage
}

// input is a file loaded once and shared by both pipelines.
type input struct {
	path  string
	typ   string
	image []byte // JPEG, images only
	text  string // full text, text files only
}

// Analyze runs the remote pipeline when requested and falls back to the local
// pipeline on any ProviderError. Returned errors are *LocalModelError.
func (o *Orchestrator) Analyze(ctx context.Context, path string, opts Options) (Result, error) {
	start := time.Now()

	in, err := o.load(path)
	if err != nil {
		return Result{}, err
	}

	if opts.remote() {
		res, perr := o.analyzeRemote(ctx, in, opts)
		if perr == nil {
			res.Duration = time.Since(start)
			return res, nil
		}
		o.logger.Warn("remote analysis failed, falling back to local",
			"path", path, "provider", opts.Provider, "reason", perr.Reason, "error", perr.Err)

		res, err := o.analyzeLocal(ctx, in)
		if err != nil {
			return Result{}, err
		}
		res.Method = fmt.Sprintf("local-fallback(%s):%s", opts.Provider, res.Method)
		res.RemoteErr = perr
		res.Duration = time.Since(start)
		return res, nil
	}

	res, err := o.analyzeLocal(ctx, in)
	if err != nil {
		return Result{}, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (o *Orchestrator) load(path string) (input, error) {
	in := input{path: path, typ: TypeOf(path)}
	if in.typ == storage.TypeText {
		b, err := os.ReadFile(path)
		if err != nil {
			return in, &LocalModelError{Path: path, Stage: "read", Err: err}
		}
		in.text = strings.ToValidUTF8(string(b), "")
		return in, nil
	}
	img, err := loadImage(path)
	if err != nil {
		return in, &LocalModelError{Path: path, Stage: "decode", Err: err}
	}
	in.image = img
	return in, nil
}

func (o *Orchestrator) analyzeRemote(ctx context.Context, in input, opts Options) (Result, *ProviderError) {
	method := "remote:" + string(opts.Provider)

	d, err := o.describer(ctx, opts)
	if err != nil {
		reason := ReasonClientSetup
		if errors.Is(err, provider.ErrMissingCredentials) {
			reason = ReasonMissingCredentials
		}
		return Result{}, &ProviderError{Method: method, Reason: reason, Err: err}
	}

	req := provider.Request{MaxTokens: remoteMaxTokens}
	if in.typ == storage.TypeImage {
		req.Prompt = imagePrompt
		req.Image = in.image
		req.MIMEType = "image/jpeg"
	} else {
		req.Prompt = textPrompt + truncateRunes(in.text, remoteTextPrefix)
	}

	raw, err := d.Describe(ctx, req)
	if err != nil {
		return Result{}, &ProviderError{Method: method, Reason: ReasonRequestFailed, Err: err}
	}
	caption, tags, err := parseDescription(raw)
	if err != nil {
		return Result{}, &ProviderError{Method: method, Reason: ReasonMalformedResponse, Err: err}
	}

	res := Result{ItemType: in.typ, Caption: caption, Tags: tags}
	var embedText string
	if in.typ == storage.TypeImage {
		ocr, err := o.ocr(ctx, in)
		if err != nil {
			// Remote caption and tags are still usable without OCR.
			o.logger.Warn("local ocr failed", "path", in.path, "error", err)
		}
		res.Content = ocr
		res.Method = method + "+local-ocr+embed"
		embedText = strings.TrimSpace(caption + " " + ocr)
	} else {
		res.Content = truncateRunes(in.text, storedTextPrefix)
		res.Method = method + "+local-embed"
		embedText = truncateRunes(in.text, localTextPrefix)
		if len(res.Tags) == 0 {
			res.Tags = HeuristicTags(embedText, TextTagMinLen)
		}
	}

	vec, err := o.embed(ctx, in.path, embedText)
	if err != nil {
		return Result{}, &ProviderError{Method: method, Reason: ReasonLocalEmbed, Err: err}
	}
	res.Embedding = vec
	return res, nil
}

func (o *Orchestrator) analyzeLocal(ctx context.Context, in input) (Result, error) {
	if in.typ == storage.TypeText {
		prefix := truncateRunes(in.text, localTextPrefix)
		vec, err := o.embed(ctx, in.path, prefix)
		if err != nil {
			return Result{}, err
		}
		return Result{
			ItemType:  in.typ,
			Caption:   truncateRunes(firstLine(prefix), captionMaxRunes),
			Tags:      HeuristicTags(prefix, TextTagMinLen),
			Content:   truncateRunes(in.text, storedTextPrefix),
			Embedding: vec,
			Method:    "local:text-heuristic+embed",
		}, nil
	}

	var caption, ocr string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := o.eng.Chat(gctx, o.cfg.CaptionModel, []engine.Message{
			{Role: "user", Content: captionPrompt, Images: [][]byte{in.image}},
		}, engine.ChatOptions{MaxTokens: captionMaxTokens})
		if err != nil {
			return &LocalModelError{Path: in.path, Stage: "caption", Err: err}
		}
		caption = strings.TrimSpace(out)
		return nil
	})
	g.Go(func() error {
		out, err := o.ocr(gctx, in)
		if err != nil {
			return err
		}
		ocr = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	vec, err := o.embed(ctx, in.path, strings.TrimSpace(caption+" "+ocr))
	if err != nil {
		return Result{}, err
	}
	return Result{
		ItemType:  in.typ,
		Caption:   caption,
		Content:   ocr,
		Embedding: vec,
		Method:    "local:caption+ocr+embed",
	}, nil
}

func (o *Orchestrator) ocr(ctx context.Context, in input) (string, error) {
	out, err := o.eng.Chat(ctx, o.cfg.OCRModel, []engine.Message{
		{Role: "user", Content: ocrPrompt, Images: [][]byte{in.image}},
	}, engine.ChatOptions{})
	if err != nil {
		return "", &LocalModelError{Path: in.path, Stage: "ocr", Err: err}
	}
	return strings.Join(strings.Fields(out), " "), nil
}

func (o *Orchestrator) embed(ctx context.Context, path, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		text = filepath.Base(path)
	}
	vec, err := o.eng.Embed(ctx, o.cfg.EmbedModel, text)
	if err != nil {
		return nil, &LocalModelError{Path: path, Stage: "embed", Err: err}
	}
	if o.cfg.Dimensions > 0 && len(vec) != o.cfg.Dimensions {
		return nil, &LocalModelError{
			Path:  path,
			Stage: "embed",
			Err:   fmt.Errorf("embedding has %d dimensions, want %d", len(vec), o.cfg.Dimensions),
		}
	}
	return vec, nil
}

// describer returns a cached provider client for opts, building it on first use.
func (o *Orchestrator) describer(ctx context.Context, opts Options) (provider.Describer, error) {
	key := clientKey(opts)
	if d, ok := o.clients.Get(key); ok {
		return d, nil
	}
	d, err := o.newDescriber(ctx, provider.Config{
		Kind:    opts.Provider,
		Model:   opts.Model,
		APIKey:  opts.Credentials,
		BaseURL: opts.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	o.clients.Add(key, d)
	return d, nil
}

func clientKey(opts Options) string {
	sum := sha256.Sum256([]byte(opts.Credentials))
	return strings.Join([]string{
		string(opts.Provider), opts.Model, opts.BaseURL, hex.EncodeToString(sum[:8]),
	}, "|")
}
