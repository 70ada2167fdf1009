package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/mhive/pkg/data"
	"github.com/rmax-ai/mhive/pkg/graph"
	"github.com/rmax-ai/mhive/pkg/relate"
	"github.com/rmax-ai/mhive/pkg/source"
)

type relateOptions struct {
	dir            string
	version        string
	threshold      float64
	maxConnections int
	annotate       bool
	dryRun         bool
}

func newRelateCmd() *cobra.Command {
	opts := relateOptions{}
	cmd := &cobra.Command{
		Use:   "relate",
		Short: "Derive RELATED_TO edges between incidents in a snapshot directory",
		Long: `Scores every pair of incident detail files under <dir>/incidents and rewrites
relations.json, replacing its RELATED_TO edges and keeping every other edge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := source.NewLocalSource(opts.dir)
			res, err := runRelate(cmd.Context(), src, opts, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scored %d incidents: %d related edges, %d kept edges, %d total.\n",
				res.incidents, res.generated, res.kept, res.doc.Total)
			if opts.dryRun {
				return printJSON(cmd.OutOrStdout(), res.doc)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", "data", "snapshot directory")
	cmd.Flags().StringVar(&opts.version, "version", "", "version stamped on relations.json (default: keep existing)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 3, "minimum pair score")
	cmd.Flags().IntVar(&opts.maxConnections, "max-connections", 5, "related edges per incident")
	cmd.Flags().BoolVar(&opts.annotate, "annotate", false, "also write relatedIncidents into each incident file")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the document instead of writing it")
	return cmd
}

type relateResult struct {
	incidents int
	generated int
	kept      int
	doc       graph.RelationsDocument
}

func runRelate(ctx context.Context, src *source.LocalSource, opts relateOptions, now time.Time) (relateResult, error) {
	incidents, keys, err := readIncidents(ctx, src)
	if err != nil {
		return relateResult{}, err
	}

	existing, err := readRelations(ctx, src)
	if err != nil {
		return relateResult{}, err
	}

	generated := relate.Generate(incidents, relate.Options{
		Threshold:      opts.threshold,
		MaxConnections: opts.maxConnections,
	})

	edges := make([]graph.Edge, 0, len(existing.Edges)+len(generated))
	for _, e := range existing.Edges {
		if e.RelationType != graph.RelRelatedTo {
			edges = append(edges, e)
		}
	}
	kept := len(edges)
	edges = append(edges, generated...)

	version := opts.version
	if version == "" {
		version = existing.Version
	}
	if version == "" {
		version = "1.0"
	}
	doc := relate.Document(edges, version, now)
	res := relateResult{incidents: len(incidents), generated: len(generated), kept: kept, doc: doc}
	if opts.dryRun {
		return res, nil
	}

	if err := putJSON(ctx, src, data.RelationsKey, doc); err != nil {
		return res, err
	}
	if opts.annotate {
		relate.Annotate(incidents, generated)
		for i, inc := range incidents {
			if err := putJSON(ctx, src, keys[i], inc); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// readIncidents decodes every incident detail file and returns them with
// the key each was read from.
func readIncidents(ctx context.Context, src *source.LocalSource) ([]*graph.Incident, []string, error) {
	listed, err := src.List(ctx, graph.TypeIncident.Dir())
	if err != nil {
		return nil, nil, err
	}

	var (
		incidents []*graph.Incident
		keys      []string
	)
	for _, key := range listed {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		raw, err := readKey(ctx, src, key)
		if err != nil {
			return nil, nil, err
		}
		e, err := graph.DecodeEntity(graph.TypeIncident, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", key, err)
		}
		inc, ok := e.(*graph.Incident)
		if !ok || inc.ID == "" {
			continue
		}
		incidents = append(incidents, inc)
		keys = append(keys, key)
	}
	return incidents, keys, nil
}

func readRelations(ctx context.Context, src *source.LocalSource) (graph.RelationsDocument, error) {
	var doc graph.RelationsDocument
	raw, err := readKey(ctx, src, data.RelationsKey)
	if errors.Is(err, source.ErrNotFound) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", data.RelationsKey, err)
	}
	return doc, nil
}

func readKey(ctx context.Context, src source.Source, key string) ([]byte, error) {
	rc, err := src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func putJSON(ctx context.Context, src *source.LocalSource, key string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return src.Put(ctx, key, bytes.NewReader(append(raw, '\n')))
}
