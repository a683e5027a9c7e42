package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/PixelPlusUI-SnowCone/external-icing/query"
	"github.com/PixelPlusUI-SnowCone/external-icing/schemastore"
)

var scoringByName = map[string]query.ScoringType{
	"none":                     query.ScoringNone,
	"document_score":           query.ScoringDocumentScore,
	"creation_timestamp":       query.ScoringCreationTimestamp,
	"usage_type1_count":        query.ScoringUsageType1Count,
	"usage_type2_count":        query.ScoringUsageType2Count,
	"usage_type3_count":        query.ScoringUsageType3Count,
	"usage_type1_last_used":    query.ScoringUsageType1LastUsedTimestamp,
	"usage_type2_last_used":    query.ScoringUsageType2LastUsedTimestamp,
	"usage_type3_last_used":    query.ScoringUsageType3LastUsedTimestamp,
}

var searchCommand = cli.Command{
	Name:  "search",
	Usage: "run a query and print matching documents as JSON",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "query", Usage: "query string, e.g. 'subject:hello world'"},
		cli.StringFlag{Name: "namespace", Usage: "comma-separated namespaces to restrict to"},
		cli.StringFlag{Name: "schema-type", Usage: "comma-separated schema types to restrict to"},
		cli.StringFlag{Name: "scoring", Value: "none", Usage: "one of none, document_score, creation_timestamp, usage_type{1,2,3}_count, usage_type{1,2,3}_last_used"},
		cli.IntFlag{Name: "num-per-page", Value: 10},
		cli.BoolFlag{Name: "prefix", Usage: "match query terms by prefix instead of exact term"},
	},
	Action: runSearch,
}

func runSearch(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}

	scoringType, ok := scoringByName[ctx.String("scoring")]
	if !ok {
		return errors.Errorf("unknown scoring %q", ctx.String("scoring"))
	}

	matchType := schemastore.TermMatchExactOnly
	if ctx.Bool("prefix") {
		matchType = schemastore.TermMatchPrefix
	}

	results, token, hasMore, err := e.Search(
		query.SearchSpec{
			Query:         ctx.String("query"),
			Namespaces:    splitCSV(ctx.String("namespace")),
			SchemaTypes:   splitCSV(ctx.String("schema-type")),
			TermMatchType: matchType,
		},
		query.ScoringSpec{Type: scoringType},
		query.ResultSpec{NumPerPage: ctx.Int("num-per-page")},
	)
	if err != nil {
		return err
	}

	return printResults(results, token, hasMore)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printResults(results []query.Result, token uint64, hasMore bool) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if hasMore {
		fmt.Printf("next_page_token=%d\n", token)
	}
	return nil
}
