package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/keydash/internal/app"
	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/storage/schema"
)

const maxLineBytes = 1 << 20

func main() {
	var (
		input       string
		concurrency int
		prefix      string
		store       app.StoreConfig
	)

	flag.StringVar(&input, "input", "-", "NDJSON file of {name, permissions} drafts, .gz allowed; - reads stdin")
	flag.IntVar(&concurrency, "concurrency", 8, "maximum concurrent create calls")
	flag.StringVar(&prefix, "prefix", apikey.DefaultPrefix, "prefix of generated secrets")
	flag.StringVar(&store.Backend, "backend", app.BackendREST, "record store backend: rest or postgres")
	flag.StringVar(&store.URL, "url", "", "hosted project base URL (or SUPABASE_URL env)")
	flag.StringVar(&store.AnonKey, "anon-key", "", "hosted project anonymous key (or SUPABASE_ANON_KEY env)")
	flag.StringVar(&store.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&store.Table, "table", "api_keys", "table holding the keys")
	flag.StringVar(&store.Schema, "schema", "auto", "table layout: slim, rich or auto")
	flag.BoolVar(&store.Migrate, "migrate", false, "apply the embedded DDL first (postgres backend)")
	flag.Parse()

	envFallback(&store.URL, "SUPABASE_URL")
	envFallback(&store.AnonKey, "SUPABASE_ANON_KEY")
	envFallback(&store.DatabaseURL, "DATABASE_URL")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, input, concurrency, prefix, store); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func envFallback(dst *string, name string) {
	if *dst == "" {
		*dst = os.Getenv(name)
	}
}

func run(ctx context.Context, input string, concurrency int, prefix string, cfg app.StoreConfig) error {
	drafts, err := readDrafts(input)
	if err != nil {
		return errors.Wrap(err, "read drafts")
	}
	slog.Info("drafts loaded", slog.Int("count", len(drafts)))
	if len(drafts) == 0 {
		return nil
	}

	store, closeStore, err := app.OpenStore(ctx, zap.NewNop(), cfg, app.Telemetry{})
	if err != nil {
		return err
	}
	defer closeStore()

	created, err := seed(ctx, store, apikey.NewGenerator(prefix), drafts, concurrency, os.Stdout)
	slog.Info("seed finished", slog.Int64("created", created), slog.Int("total", len(drafts)))
	return err
}

// readDrafts reads one JSON draft per line from path. Blank lines are
// skipped; .gz files are decompressed.
func readDrafts(path string) ([]apikey.Draft, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()
		r = f

		if strings.HasSuffix(path, ".gz") {
			gz, err := pgzip.NewReader(f)
			if err != nil {
				return nil, errors.Wrapf(err, "create gzip reader for %s", path)
			}
			defer func() { _ = gz.Close() }()
			r = gz
		}
	}
	return parseDrafts(r)
}

func parseDrafts(r io.Reader) ([]apikey.Draft, error) {
	var drafts []apikey.Draft
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for line := 1; scanner.Scan(); line++ {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		d, err := parseDraft([]byte(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		drafts = append(drafts, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return drafts, nil
}

func parseDraft(raw []byte) (apikey.Draft, error) {
	var d apikey.Draft
	err := jx.DecodeBytes(raw).ObjBytes(func(dec *jx.Decoder, key []byte) error {
		switch string(key) {
		case "name":
			v, err := dec.Str()
			d.Name = v
			return err
		case "permissions":
			v, err := dec.Str()
			d.Permissions = apikey.ParsePermission(v)
			return err
		default:
			return dec.Skip()
		}
	})
	if err != nil {
		return apikey.Draft{}, errors.Wrap(err, "decode draft")
	}
	return d, nil
}

// creator is the part of the record store the seeder writes through.
type creator interface {
	Create(ctx context.Context, draft apikey.Draft, secret string) (schema.Row, error)
}

// seed creates every draft with at most concurrency calls in flight and
// writes one {id, name, secret} line per created key to out as soon as the
// store confirms it. Drafts that fail are logged and skipped; the returned
// error is the first failure.
func seed(ctx context.Context, store creator, gen *apikey.Generator, drafts []apikey.Draft, concurrency int, out io.Writer) (int64, error) {
	var (
		created  atomic.Int64
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, d := range drafts {
		g.Go(func() error {
			d = d.Normalize()
			if err := d.Validate(); err != nil {
				slog.Warn("draft rejected", slog.Int("index", i), slog.String("error", err.Error()))
				fail(errors.Wrapf(err, "draft %d", i))
				return nil
			}
			row, err := store.Create(ctx, d, gen.Generate())
			if err != nil {
				slog.Warn("create failed", slog.Int("index", i), slog.String("name", d.Name), slog.String("error", apikey.MessageOf(err)))
				fail(errors.Wrapf(err, "draft %d (%s)", i, d.Name))
				return nil
			}
			rec := schema.ToRecord(row)

			var e jx.Encoder
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(rec.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(rec.Name) })
				e.Field("secret", func(e *jx.Encoder) { e.Str(rec.Secret) })
			})

			mu.Lock()
			defer mu.Unlock()
			if _, err := out.Write(append(e.Bytes(), '\n')); err != nil {
				return errors.Wrapf(err, "write result for key %s", rec.ID)
			}
			created.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return created.Load(), err
	}
	return created.Load(), firstErr
}
